package ws

import (
	"sync"

	"fileCollab/backend/internal/cache"
	"fileCollab/backend/internal/fileedit"
)

// Hub：文件房间与连接的对应关系。
// presence 是外部存储（Redis）的句柄，在线状态落在那边，
// rooms 只管本进程内的连接，广播逐连接发。
type Hub struct {
	presence cache.PresenceCache
	mu       sync.RWMutex
	// fileID -> set of connections
	// 存 *Conn 而不是 userID：同一用户可开多个标签页/设备
	rooms map[string]map[*Conn]struct{}
}

func NewHub(p cache.PresenceCache) *Hub {
	return &Hub{presence: p, rooms: make(map[string]map[*Conn]struct{})}
}

func (h *Hub) Join(fileID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[fileID] == nil {
		h.rooms[fileID] = make(map[*Conn]struct{})
	}
	h.rooms[fileID][c] = struct{}{}
}

func (h *Hub) Leave(fileID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[fileID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, fileID)
		}
	}
}

// Broadcast：发给房间内除 exclude 外的所有连接
func (h *Hub) Broadcast(fileID string, exclude *Conn, evt fileedit.Event) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.rooms[fileID]))
	for c := range h.rooms[fileID] {
		if c != exclude {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.enqueue(evt)
	}
}
