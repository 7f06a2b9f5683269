package collab

import "time"

// 文件活动事件，投递到 Kafka 供活动流（Activity Feed）等下游消费。
const (
	ActFileCreated  = "FILE_CREATED"
	ActSaveApplied  = "SAVE_APPLIED"
	ActSaveConflict = "SAVE_CONFLICT"
)

type FileActivityEvent struct {
	EventType  string    `json:"eventType"` // FILE_CREATED / SAVE_APPLIED / SAVE_CONFLICT
	FileID     string    `json:"fileId"`
	FileName   string    `json:"fileName,omitempty"`
	Version    uint64    `json:"version"`
	UserID     string    `json:"userId"`
	UserName   string    `json:"userName,omitempty"`
	Room       string    `json:"room,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
