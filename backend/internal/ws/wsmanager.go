package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fileCollab/backend/internal/collab"
	"fileCollab/backend/internal/fileedit"
	"fileCollab/backend/internal/store"
)

// 全局的WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	h     *Hub
	files store.FileStore
	sem   *collab.SemaphoreControl
}

func NewManager(h *Hub, files store.FileStore, sem *collab.SemaphoreControl) *Manager {
	return &Manager{h: h, files: files, sem: sem}
}

// WebSocketConnect：升级连接并进入读写循环。
// 用户身份由鉴权中间件写进 gin.Context。
func (m *Manager) WebSocketConnect(c *gin.Context) {
	user := fileedit.User{ID: c.GetString("userId"), Name: c.GetString("username")}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m.h, user, m.files, m.sem)

	// 先启动写循环，保证 send 通道里的消息能被及时发出
	go wsConn.writeLoop()
	wsConn.enqueue(fileedit.Event{Type: "welcome"})

	// 读循环阻塞至连接关闭
	wsConn.readLoop(c.Request.Context())
}
