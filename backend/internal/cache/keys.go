package cache

import "fmt"

// 键语义：
// - roomKey(fileID):   房间在线成员（ZSet<userID, expireAtUnix>，score=expireAt）
// - namesKey(fileID):  房间内 userID→name 映射（Hash）
// - cursorKey:         单个用户的光标记录（String，JSON）

const (
	keyRoomFmt   = "presence:file:{fileID:%s}"
	keyNamesFmt  = "presence:file:names:{fileID:%s}"
	keyCursorFmt = "presence:cursor:%s:%s"
)

func roomKey(fileID string) string  { return fmt.Sprintf(keyRoomFmt, fileID) }
func namesKey(fileID string) string { return fmt.Sprintf(keyNamesFmt, fileID) }
func cursorKey(fileID, userID string) string {
	return fmt.Sprintf(keyCursorFmt, fileID, userID)
}
