package fileedit

import "sync"

// LocalBus：进程内的 Broadcaster 实现。
// - 单测与单机模式使用；跨进程场景换成 ws 客户端实现
// - 同步投递给 topic 下所有订阅者（包括发送者自己，回声由会话侧抑制）
type LocalBus struct {
	mu   sync.RWMutex
	subs map[string]map[int]func(Event)
	next int
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[int]func(Event))}
}

func (b *LocalBus) Publish(topic string, evt Event) error {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	// 锁外调用 handler，避免回调里再进 bus 造成死锁
	for _, h := range handlers {
		h(evt)
	}
	return nil
}

func (b *LocalBus) Subscribe(topic string, h func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]func(Event))
	}
	id := b.next
	b.next++
	b.subs[topic][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if m, ok := b.subs[topic]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(b.subs, topic)
			}
		}
	}
}
