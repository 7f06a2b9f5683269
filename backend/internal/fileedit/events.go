package fileedit

import "time"

// 文件协作的线上事件协议（JSON）。
// 客户端发出：joinFile / leaveFile / cursorMove / fileEdit / fileSaved / saveConflict
// 服务端中转后：userJoinedFile / userLeftFile / cursorMoved / fileEdited
// 服务端主动下发：fileState（入房快照） / activeCollaborators（在线名单）
const (
	EvtJoinFile            = "joinFile"
	EvtLeaveFile           = "leaveFile"
	EvtCursorMove          = "cursorMove"
	EvtFileEdit            = "fileEdit"
	EvtFileSaved           = "fileSaved"
	EvtSaveConflict        = "saveConflict"
	EvtUserJoinedFile      = "userJoinedFile"
	EvtUserLeftFile        = "userLeftFile"
	EvtCursorMoved         = "cursorMoved"
	EvtFileEdited          = "fileEdited"
	EvtFileState           = "fileState"
	EvtActiveCollaborators = "activeCollaborators"
)

type User struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
}

// 文档实体。Version 从 1 开始，每次成功保存 +1。
type File struct {
	ID             string    `json:"_id"`
	Name           string    `json:"name,omitempty"`
	Content        string    `json:"content"`
	FileType       string    `json:"fileType,omitempty"`
	Version        uint64    `json:"version"`
	Room           string    `json:"room,omitempty"`
	Collaborators  []User    `json:"collaborators,omitempty"`
	LastModified   time.Time `json:"lastModified,omitempty"`
	LastModifiedBy *User     `json:"lastModifiedBy,omitempty"`
}

// 单一扁平结构承载全部事件字段，按 Type 取用（未用字段零值省略）。
type Event struct {
	Type           string                  `json:"type"`
	FileID         string                  `json:"fileId"`
	User           *User                   `json:"user,omitempty"`
	Content        string                  `json:"content,omitempty"`
	Version        uint64                  `json:"version,omitempty"`
	Position       int                     `json:"position,omitempty"`
	Color          string                  `json:"color,omitempty"`
	SavedBy        *User                   `json:"savedBy,omitempty"`
	File           *File                   `json:"file,omitempty"`
	CurrentVersion uint64                  `json:"currentVersion,omitempty"`
	CurrentContent string                  `json:"currentContent,omitempty"`
	Cursors        map[string]CursorRecord `json:"cursors,omitempty"`
	Collaborators  []User                  `json:"collaborators,omitempty"`
}
