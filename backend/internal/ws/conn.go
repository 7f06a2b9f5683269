package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"fileCollab/backend/internal/collab"
	"fileCollab/backend/internal/fileedit"
	"fileCollab/backend/internal/store"
)

// 房间成员的逻辑 TTL：心跳/任何房间活动都会续期
const presenceTTL = 600 * time.Second

type Conn struct {
	ws     *websocket.Conn
	hub    *Hub
	fileID string
	user   fileedit.User
	send   chan fileedit.Event
	files  store.FileStore
	sem    *collab.SemaphoreControl
}

func NewConn(ws *websocket.Conn, hub *Hub, user fileedit.User, files store.FileStore, sem *collab.SemaphoreControl) *Conn {
	return &Conn{ws: ws, hub: hub, user: user, send: make(chan fileedit.Event, 32), files: files, sem: sem}
}

func (c *Conn) enqueue(evt fileedit.Event) {
	select {
	case c.send <- evt:
	default:
		// 队列满了就丢：广播是 at-most-once，慢连接不拖慢房间
	}
}

func (c *Conn) writeLoop() {
	for evt := range c.send {
		_ = c.ws.WriteJSON(evt)
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.send)
	defer c.cleanup()
	for {
		var evt fileedit.Event
		if err := c.ws.ReadJSON(&evt); err != nil {
			log.Printf("read json error (user=%s, file=%s): %v", c.user.ID, c.fileID, err)
			return
		}
		// 事件里的 user 以鉴权身份为准，不信客户端自报
		evt.User = &c.user

		switch evt.Type {

		case fileedit.EvtJoinFile:
			c.handleJoin(ctx, evt.FileID)

		case fileedit.EvtLeaveFile:
			if c.fileID == "" {
				continue
			}
			if err := c.hub.presence.RemoveMember(ctx, c.fileID, c.user.ID); err != nil {
				log.Printf("remove member error: %v", err)
			}
			c.hub.Broadcast(c.fileID, c, fileedit.Event{
				Type: fileedit.EvtUserLeftFile, FileID: c.fileID, User: &c.user,
			})
			c.hub.Leave(c.fileID, c)
			c.fileID = ""

		case fileedit.EvtCursorMove:
			if c.fileID == "" {
				continue
			}
			rec := fileedit.CursorRecord{User: c.user, Position: evt.Position, Color: fileedit.CursorColor(c.user.ID)}
			if b, err := json.Marshal(rec); err == nil {
				if err := c.hub.presence.SetCursor(ctx, c.fileID, c.user.ID, b, presenceTTL); err != nil {
					log.Printf("set cursor error: %v", err)
				}
			}
			c.hub.Broadcast(c.fileID, c, fileedit.Event{
				Type: fileedit.EvtCursorMoved, FileID: c.fileID, User: &c.user,
				Position: evt.Position, Color: rec.Color,
			})

		case fileedit.EvtFileEdit:
			// 进行中的编辑只中转给同房间其他人，不落存储、不动版本
			if c.fileID == "" {
				continue
			}
			c.hub.Broadcast(c.fileID, c, fileedit.Event{
				Type: fileedit.EvtFileEdited, FileID: c.fileID, User: &c.user,
				Content: evt.Content, Version: evt.Version,
			})

		case fileedit.EvtFileSaved, fileedit.EvtSaveConflict:
			// 保存协调器已经在 REST 侧完成条件写，这里只负责扩散结果
			if c.fileID == "" {
				continue
			}
			c.hub.Broadcast(c.fileID, c, evt)

		case "heartbeat":
			if c.fileID != "" {
				if err := c.hub.presence.AddMember(ctx, c.fileID, c.user.ID, c.user.Name, presenceTTL); err != nil {
					log.Printf("add member error: %v", err)
				}
			}

		default:
			// 未知类型忽略
		}
	}
}

func (c *Conn) handleJoin(ctx context.Context, fileID string) {
	if fileID == "" {
		return
	}
	// 入房要查库+查 redis，限流防止重连风暴打穿后端
	if c.sem != nil {
		acqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.sem.Acquire(acqCtx)
		cancel()
		if err != nil {
			c.enqueue(fileedit.Event{Type: "error", FileID: fileID, Content: "BUSY"})
			return
		}
		defer c.sem.Release()
	}
	f, err := c.files.FetchFile(ctx, fileID)
	if err != nil {
		c.enqueue(fileedit.Event{Type: "error", FileID: fileID, Content: "FILE_NOT_FOUND"})
		return
	}

	// 换房间先离开旧房间
	if c.fileID != "" && c.fileID != fileID {
		_ = c.hub.presence.RemoveMember(ctx, c.fileID, c.user.ID)
		c.hub.Broadcast(c.fileID, c, fileedit.Event{
			Type: fileedit.EvtUserLeftFile, FileID: c.fileID, User: &c.user,
		})
		c.hub.Leave(c.fileID, c)
	}
	c.fileID = fileID

	c.hub.Join(fileID, c)
	if err := c.hub.presence.AddMember(ctx, fileID, c.user.ID, c.user.Name, presenceTTL); err != nil {
		log.Printf("add member error: %v", err)
	}
	// 持久化协作者名单（按主键去重）
	if err := c.files.AddCollaborator(ctx, fileID, c.user); err != nil {
		log.Printf("add collaborator error: %v", err)
	}

	// 入房快照：文档 + 在线名单 + 光标
	members, err := c.hub.presence.GetAliveMembers(ctx, fileID)
	if err != nil {
		log.Printf("get members error: %v", err)
	}
	live := make([]fileedit.User, 0, len(members))
	ids := make([]string, 0, len(members))
	for _, m := range members {
		live = append(live, fileedit.User{ID: m.UserID, Name: m.Name})
		ids = append(ids, m.UserID)
	}
	cursors := make(map[string]fileedit.CursorRecord)
	if raw, err := c.hub.presence.GetCursors(ctx, fileID, ids); err == nil {
		for uid, b := range raw {
			var rec fileedit.CursorRecord
			if json.Unmarshal(b, &rec) == nil {
				cursors[uid] = rec
			}
		}
	}
	c.enqueue(fileedit.Event{
		Type: fileedit.EvtFileState, FileID: fileID,
		File: f, Cursors: cursors, Collaborators: live,
	})

	c.hub.Broadcast(fileID, c, fileedit.Event{
		Type: fileedit.EvtUserJoinedFile, FileID: fileID, User: &c.user,
	})
}

// 连接断开：等价于 leaveFile。
// 此时请求的 ctx 多半已取消，清理用独立的短超时 ctx。
func (c *Conn) cleanup() {
	if c.fileID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = c.hub.presence.RemoveMember(ctx, c.fileID, c.user.ID)
	c.hub.Broadcast(c.fileID, c, fileedit.Event{
		Type: fileedit.EvtUserLeftFile, FileID: c.fileID, User: &c.user,
	})
	c.hub.Leave(c.fileID, c)
}
