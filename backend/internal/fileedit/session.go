package fileedit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	// 键入停顿超过该窗口才向同房间广播一次内容（trailing-edge debounce）
	DefaultDebounceWindow = 500 * time.Millisecond
	// dirty 状态下的周期性自动保存
	DefaultAutoSaveEvery = 30 * time.Second
)

type Options struct {
	DebounceWindow time.Duration
	// <=0 表示关闭自动保存（测试里常用）
	AutoSaveEvery time.Duration
}

// Session：每个 (用户, 打开的文件) 一个，客户端本地状态机。
// 持有本地缓冲、已知版本、dirty 标记与光标位置；
// 文档的权威状态只存在于存储侧，这里只是可能过期的副本 + 版本水位。
type Session struct {
	fileID string
	user   User
	topic  string

	api DocumentAPI
	bus Broadcaster

	mu         sync.Mutex
	buffer     string
	version    uint64
	dirty      bool
	cursor     int
	saving     bool
	closed     bool
	saveStatus string
	file       *File

	presence *Tracker

	debounce       *time.Timer
	debounceWindow time.Duration
	statusTimer    *time.Timer

	unsubscribe  func()
	stopAutoSave chan struct{}
}

// 只读状态快照，给展示层用
type State struct {
	Buffer         string
	Version        uint64
	Dirty          bool
	Cursor         int
	Saving         bool
	LastSaveStatus string
	Roster         []RosterEntry
	Cursors        map[string]CursorRecord
}

// OpenSession：拉取文档、落地初始状态、订阅房间并广播 join。
// 加载失败对打开会话是致命的（包 ErrLoadFailed 返回，核心不做重试）。
func OpenSession(ctx context.Context, api DocumentAPI, bus Broadcaster, fileID string, user User, opt Options) (*Session, error) {
	f, err := api.FetchFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	if opt.DebounceWindow <= 0 {
		opt.DebounceWindow = DefaultDebounceWindow
	}

	s := &Session{
		fileID:         fileID,
		user:           user,
		topic:          FileTopic(fileID),
		api:            api,
		bus:            bus,
		buffer:         f.Content,
		version:        f.Version,
		file:           f,
		presence:       NewTracker(user),
		debounceWindow: opt.DebounceWindow,
		stopAutoSave:   make(chan struct{}),
	}
	// 名单对账：持久化协作者 + 本地用户；在线快照随 fileState 事件到达后覆盖
	s.presence.Seed(f.Collaborators)

	s.unsubscribe = bus.Subscribe(s.topic, s.handleEvent)
	_ = bus.Publish(s.topic, Event{Type: EvtJoinFile, FileID: fileID, User: &s.user})

	if opt.AutoSaveEvery > 0 {
		go s.autoSaveLoop(opt.AutoSaveEvery)
	}
	return s, nil
}

func (s *Session) FileID() string { return s.fileID }
func (s *Session) User() User     { return s.user }

// EditBuffer：本地键入。缓冲整体替换、置 dirty、更新光标；
// 光标立即广播（手感要跟手），内容广播走 debounce 合并。
func (s *Session) EditBuffer(content string, cursor int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.buffer = content
	s.dirty = true
	s.cursor = cursor

	// 每次键入重置计时器：同一会话只允许一个待发的内容广播
	if s.debounce == nil {
		s.debounce = time.AfterFunc(s.debounceWindow, s.flushEdit)
	} else {
		s.debounce.Reset(s.debounceWindow)
	}
	s.mu.Unlock()

	_ = s.bus.Publish(s.topic, Event{
		Type: EvtCursorMove, FileID: s.fileID, User: &s.user, Position: cursor,
	})
}

// debounce 到期：把此刻的缓冲广播给同房间的其他会话。
// 只是让对端"看见"进行中的编辑，不推进版本、不清 dirty。
func (s *Session) flushEdit() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	content := s.buffer
	version := s.version
	s.mu.Unlock()

	if err := s.bus.Publish(s.topic, Event{
		Type: EvtFileEdit, FileID: s.fileID, User: &s.user, Content: content, Version: version,
	}); err != nil {
		log.Printf("fileedit: broadcast edit failed (file=%s user=%s): %v", s.fileID, s.user.ID, err)
	}
}

// Save：保存协调器。
// - dirty=false 时是 no-op，不发任何网络请求
// - 成功：version=新版本，dirty 清零，广播 fileSaved
// - 冲突：用存储侧最新内容覆盖本地（document-wins，不做合并），广播 saveConflict
// - 传输错误：状态不动，dirty 保留，包 ErrSaveFailed 返回由调用方决定重试
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	content := s.buffer
	expected := s.version
	s.saving = true
	s.mu.Unlock()

	res, err := s.api.ConditionalWrite(ctx, s.fileID, content, expected)

	s.mu.Lock()
	s.saving = false
	if s.closed {
		// 关闭后才回来的结果直接丢弃
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.setStatusLocked("Failed to save file", 3*time.Second)
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	if res.Conflict {
		// 另一个会话先保存了：丢弃本地未保存编辑，向存储侧收敛
		s.buffer = res.CurrentContent
		s.version = res.CurrentVersion
		s.dirty = false
		s.setStatusLocked("Version conflict - file updated", 5*time.Second)
		s.mu.Unlock()

		_ = s.bus.Publish(s.topic, Event{
			Type: EvtSaveConflict, FileID: s.fileID, User: &s.user,
			CurrentVersion: res.CurrentVersion, CurrentContent: res.CurrentContent,
		})
		return nil
	}

	s.version = res.NewVersion
	s.dirty = false
	if res.File != nil {
		s.file = res.File
	}
	s.setStatusLocked("Saved successfully", 3*time.Second)
	s.mu.Unlock()

	// 让同文档的其他会话不用重新 fetch 就能对齐
	_ = s.bus.Publish(s.topic, Event{
		Type: EvtFileSaved, FileID: s.fileID, SavedBy: &s.user,
		Version: res.NewVersion, File: res.File,
	})
	return nil
}

// Close：广播 leave、退订、取消待发的 debounce 广播。
// 不隐含保存——带着未保存修改关闭就丢（自动保存是兜底）。
// 在途的保存请求不取消，结果回来时发现已关闭会被丢弃。
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.debounce != nil {
		s.debounce.Stop()
	}
	if s.statusTimer != nil {
		s.statusTimer.Stop()
	}
	close(s.stopAutoSave)
	s.mu.Unlock()

	_ = s.bus.Publish(s.topic, Event{Type: EvtLeaveFile, FileID: s.fileID, User: &s.user})
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	st := State{
		Buffer:         s.buffer,
		Version:        s.version,
		Dirty:          s.dirty,
		Cursor:         s.cursor,
		Saving:         s.saving,
		LastSaveStatus: s.saveStatus,
	}
	s.mu.Unlock()
	st.Roster = s.presence.Roster()
	st.Cursors = s.presence.Cursors()
	return st
}

// 入站事件分发。自己发出的事件被广播通道回显时要丢弃（echo suppression）。
func (s *Session) handleEvent(evt Event) {
	switch evt.Type {

	case EvtFileEdit, EvtFileEdited:
		if evt.User == nil || evt.User.ID == s.user.ID {
			return
		}
		s.mu.Lock()
		if !s.closed {
			// 远端编辑按已保存事实整体覆盖：
			// 本地未广播的键入会被一并丢掉（与参考行为保持一致，已知的有损策略）
			s.buffer = evt.Content
			s.version = evt.Version
			s.dirty = false
		}
		s.mu.Unlock()

	case EvtCursorMove, EvtCursorMoved:
		if evt.User == nil || evt.User.ID == s.user.ID {
			return
		}
		s.presence.SetCursor(*evt.User, evt.Position)

	case EvtJoinFile, EvtUserJoinedFile:
		if evt.User == nil || evt.User.ID == s.user.ID {
			return
		}
		s.presence.Join(*evt.User)

	case EvtLeaveFile, EvtUserLeftFile:
		if evt.User == nil || evt.User.ID == s.user.ID {
			return
		}
		s.presence.Leave(*evt.User)

	case EvtFileSaved:
		s.mu.Lock()
		if !s.closed {
			s.version = evt.Version
			s.dirty = false
			if evt.File != nil {
				s.file = evt.File
				s.buffer = evt.File.Content
			}
			name := ""
			if evt.SavedBy != nil {
				name = evt.SavedBy.Name
			}
			s.setStatusLocked("Saved by "+name, 3*time.Second)
		}
		s.mu.Unlock()
		if evt.File != nil && len(evt.File.Collaborators) > 0 {
			s.presence.Seed(evt.File.Collaborators)
		}

	case EvtSaveConflict:
		if evt.User != nil && evt.User.ID == s.user.ID {
			return
		}
		s.mu.Lock()
		if !s.closed {
			s.buffer = evt.CurrentContent
			s.version = evt.CurrentVersion
			s.dirty = false
			s.setStatusLocked("Version conflict - file updated", 5*time.Second)
		}
		s.mu.Unlock()

	case EvtFileState:
		// 入房快照：服务端给的全量状态
		if evt.File != nil {
			s.mu.Lock()
			if !s.closed {
				s.file = evt.File
				s.buffer = evt.File.Content
				s.version = evt.File.Version
			}
			s.mu.Unlock()
		}
		for _, c := range evt.Cursors {
			if c.User.ID != s.user.ID {
				s.presence.SetCursor(c.User, c.Position)
			}
		}
		if len(evt.Collaborators) > 0 {
			s.presence.ReplaceLive(evt.Collaborators)
		} else if evt.File != nil {
			s.presence.Seed(evt.File.Collaborators)
		}

	case EvtActiveCollaborators:
		s.presence.ReplaceLive(evt.Collaborators)
	}
}

func (s *Session) autoSaveLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			dirty := s.dirty && !s.closed
			s.mu.Unlock()
			if !dirty {
				continue
			}
			if err := s.Save(context.Background()); err != nil {
				log.Printf("fileedit: auto-save failed (file=%s user=%s): %v", s.fileID, s.user.ID, err)
			}
		case <-s.stopAutoSave:
			return
		}
	}
}

// 状态提示若干秒后自动清空（仅当没有被新提示覆盖）
func (s *Session) setStatusLocked(msg string, clearAfter time.Duration) {
	s.saveStatus = msg
	if s.statusTimer != nil {
		s.statusTimer.Stop()
	}
	s.statusTimer = time.AfterFunc(clearAfter, func() {
		s.mu.Lock()
		if s.saveStatus == msg {
			s.saveStatus = ""
		}
		s.mu.Unlock()
	})
}
