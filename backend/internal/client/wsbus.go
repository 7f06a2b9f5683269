package client

import (
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fileCollab/backend/internal/fileedit"
)

var ErrBusClosed = errors.New("ws bus closed")

// WSBroadcaster：fileedit.Broadcaster 的 WebSocket 实现。
// 服务端按房间中转事件，这里按 FileTopic(evt.FileID) 派发给订阅者。
// 写由单独的 writeLoop 串行化（gorilla 不允许并发写）。
type WSBroadcaster struct {
	conn *websocket.Conn
	send chan fileedit.Event

	mu     sync.Mutex
	subs   map[string]map[int]func(fileedit.Event)
	nextID int
	closed bool
	done   chan struct{}
}

// DialWS 建立到 /collab/ws 的连接，token 走 query（浏览器同款路径）。
func DialWS(wsURL, token string) (*WSBroadcaster, error) {
	u, err := url.Parse(strings.TrimRight(wsURL, "/"))
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}

	b := &WSBroadcaster{
		conn: conn,
		send: make(chan fileedit.Event, 32),
		subs: make(map[string]map[int]func(fileedit.Event)),
		done: make(chan struct{}),
	}
	go b.writeLoop()
	go b.readLoop()
	return b, nil
}

func (b *WSBroadcaster) Publish(topic string, evt fileedit.Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}
	select {
	case b.send <- evt:
		return nil
	case <-b.done:
		return ErrBusClosed
	}
}

func (b *WSBroadcaster) Subscribe(topic string, h func(fileedit.Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]func(fileedit.Event))
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if hs, ok := b.subs[topic]; ok {
			delete(hs, id)
			if len(hs) == 0 {
				delete(b.subs, topic)
			}
		}
	}
}

func (b *WSBroadcaster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	close(b.done)
	return b.conn.Close()
}

func (b *WSBroadcaster) writeLoop() {
	for {
		select {
		case evt := <-b.send:
			if err := b.conn.WriteJSON(evt); err != nil {
				log.Printf("ws write error: %v", err)
				b.Close()
				return
			}
		case <-b.done:
			return
		}
	}
}

func (b *WSBroadcaster) readLoop() {
	defer b.Close()
	for {
		var evt fileedit.Event
		if err := b.conn.ReadJSON(&evt); err != nil {
			select {
			case <-b.done:
			default:
				log.Printf("ws read error: %v", err)
			}
			return
		}
		if evt.FileID == "" {
			// welcome / error 等非房间事件
			continue
		}
		b.dispatch(fileedit.FileTopic(evt.FileID), evt)
	}
}

func (b *WSBroadcaster) dispatch(topic string, evt fileedit.Event) {
	b.mu.Lock()
	hs := make([]func(fileedit.Event), 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		hs = append(hs, h)
	}
	b.mu.Unlock()
	for _, h := range hs {
		h(evt)
	}
}
