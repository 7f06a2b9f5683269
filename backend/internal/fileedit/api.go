package fileedit

import (
	"context"
	"errors"
)

var (
	// 初次加载失败：会话无法打开，由调用方决定是否重试
	ErrLoadFailed = errors.New("LOAD_FAILED")
	// 保存失败（传输/服务端错误，不是版本冲突）：dirty 保留，可重试
	ErrSaveFailed = errors.New("SAVE_FAILED")
	// 会话已关闭
	ErrSessionClosed = errors.New("SESSION_CLOSED")
)

// 条件写结果。Conflict=true 时 CurrentVersion/CurrentContent 携带
// 存储侧的最新状态；成功时 NewVersion = expectedVersion+1，File 为保存后的权威文档。
type SaveResult struct {
	Conflict       bool
	NewVersion     uint64
	File           *File
	CurrentVersion uint64
	CurrentContent string
}

// 文档存储协作方（REST）。ConditionalWrite 必须是原子的
// check-and-write：expectedVersion 不匹配时返回 Conflict，而不是 error。
type DocumentAPI interface {
	FetchFile(ctx context.Context, id string) (*File, error)
	ConditionalWrite(ctx context.Context, id, content string, expectedVersion uint64) (SaveResult, error)
}

// 广播通道协作方。投递语义 at-most-once，不保证全局有序。
// Subscribe 返回的函数用于退订。
type Broadcaster interface {
	Publish(topic string, evt Event) error
	Subscribe(topic string, h func(Event)) (unsubscribe func())
}

// 文件房间的 topic 约定
func FileTopic(fileID string) string { return "file:" + fileID }
