package fileedit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeAPI：脚本化的 DocumentAPI。内部持有一份带版本号的文档，
// ConditionalWrite 在互斥锁内做 check-and-write，可多个会话共享。
type fakeAPI struct {
	mu      sync.Mutex
	file    File
	loadErr error
	saveErr error
	// 记录收到的条件写调用
	writes []condWrite
	// 非 nil 时，ConditionalWrite 会阻塞直到通道被关闭（模拟在途请求）
	block chan struct{}
}

type condWrite struct {
	id       string
	content  string
	expected uint64
}

func newFakeAPI(id, content string, version uint64) *fakeAPI {
	return &fakeAPI{file: File{ID: id, Name: id, Content: content, Version: version}}
}

func (f *fakeAPI) FetchFile(ctx context.Context, id string) (*File, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.file
	return &cp, nil
}

func (f *fakeAPI) ConditionalWrite(ctx context.Context, id, content string, expected uint64) (SaveResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, condWrite{id: id, content: content, expected: expected})
	if f.saveErr != nil {
		return SaveResult{}, f.saveErr
	}
	if expected != f.file.Version {
		return SaveResult{Conflict: true, CurrentVersion: f.file.Version, CurrentContent: f.file.Content}, nil
	}
	f.file.Content = content
	f.file.Version++
	cp := f.file
	return SaveResult{NewVersion: f.file.Version, File: &cp}, nil
}

func (f *fakeAPI) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// 收集某个 topic 上指定类型的事件
func collectEvents(bus *LocalBus, topic string, types ...string) (*[]Event, func()) {
	var mu sync.Mutex
	out := &[]Event{}
	unsub := bus.Subscribe(topic, func(evt Event) {
		for _, t := range types {
			if evt.Type == t {
				mu.Lock()
				*out = append(*out, evt)
				mu.Unlock()
			}
		}
	})
	return out, unsub
}

var noAutoSave = Options{DebounceWindow: 20 * time.Millisecond}

func TestOpenSeedsState(t *testing.T) {
	api := newFakeAPI("doc1", "hello", 3)
	api.file.Collaborators = []User{{ID: "u2", Name: "Bob"}}
	bus := NewLocalBus()

	s, err := OpenSession(context.Background(), api, bus, "doc1", User{ID: "u1", Name: "Alice"}, noAutoSave)
	if err != nil {
		t.Fatalf("OpenSession error: %v", err)
	}
	defer s.Close()

	st := s.Snapshot()
	if st.Buffer != "hello" || st.Version != 3 || st.Dirty {
		t.Fatalf("seed state = %q v%d dirty=%v, want hello v3 clean", st.Buffer, st.Version, st.Dirty)
	}
	// 名单对账：持久化协作者 + 本地用户
	if len(st.Roster) != 2 {
		t.Fatalf("roster size = %d, want 2", len(st.Roster))
	}
}

func TestOpenLoadError(t *testing.T) {
	api := newFakeAPI("doc1", "", 1)
	api.loadErr = errors.New("network down")
	_, err := OpenSession(context.Background(), api, NewLocalBus(), "doc1", User{ID: "u1"}, noAutoSave)
	if !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("err = %v, want ErrLoadFailed", err)
	}
}

// P4：debounce 窗口内的 N 次键入只产生 1 条内容广播，内容为第 N 次之后的缓冲
func TestDebounceCoalescing(t *testing.T) {
	api := newFakeAPI("doc1", "hello", 3)
	bus := NewLocalBus()
	edits, unsub := collectEvents(bus, FileTopic("doc1"), EvtFileEdit)
	defer unsub()

	s, err := OpenSession(context.Background(), api, bus, "doc1", User{ID: "u1"}, noAutoSave)
	if err != nil {
		t.Fatalf("OpenSession error: %v", err)
	}
	defer s.Close()

	s.EditBuffer("h", 1)
	s.EditBuffer("he", 2)
	s.EditBuffer("hello!", 6)
	time.Sleep(100 * time.Millisecond)

	if len(*edits) != 1 {
		t.Fatalf("edit broadcasts = %d, want 1", len(*edits))
	}
	if got := (*edits)[0].Content; got != "hello!" {
		t.Fatalf("broadcast content = %q, want %q", got, "hello!")
	}
}

// 光标广播不走 debounce，每次键入立即一条
func TestCursorBroadcastImmediate(t *testing.T) {
	api := newFakeAPI("doc1", "hello", 3)
	bus := NewLocalBus()
	cursors, unsub := collectEvents(bus, FileTopic("doc1"), EvtCursorMove)
	defer unsub()

	s, _ := OpenSession(context.Background(), api, bus, "doc1", User{ID: "u1"}, noAutoSave)
	defer s.Close()

	s.EditBuffer("a", 1)
	s.EditBuffer("ab", 2)
	if len(*cursors) != 2 {
		t.Fatalf("cursor broadcasts = %d, want 2", len(*cursors))
	}
	if (*cursors)[1].Position != 2 {
		t.Fatalf("cursor position = %d, want 2", (*cursors)[1].Position)
	}
}

// E2E 场景 1：打开 → 键入 → debounce 广播 → 保存 → 版本推进
func TestEditThenSave(t *testing.T) {
	api := newFakeAPI("doc1", "hello", 3)
	bus := NewLocalBus()
	edits, unsub := collectEvents(bus, FileTopic("doc1"), EvtFileEdit)
	defer unsub()

	s, err := OpenSession(context.Background(), api, bus, "doc1", User{ID: "u1", Name: "Alice"}, noAutoSave)
	if err != nil {
		t.Fatalf("OpenSession error: %v", err)
	}
	defer s.Close()

	s.EditBuffer("hello!", 6)
	time.Sleep(60 * time.Millisecond)
	if len(*edits) != 1 || (*edits)[0].Content != "hello!" {
		t.Fatalf("want exactly one edit broadcast with %q, got %v", "hello!", *edits)
	}

	if err := s.Save(context.Background()); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	api.mu.Lock()
	w := api.writes[0]
	api.mu.Unlock()
	if w.id != "doc1" || w.content != "hello!" || w.expected != 3 {
		t.Fatalf("conditional write = %+v, want (doc1, hello!, 3)", w)
	}
	st := s.Snapshot()
	if st.Version != 4 || st.Dirty {
		t.Fatalf("after save: v%d dirty=%v, want v4 clean", st.Version, st.Dirty)
	}
}

// P5：dirty=false 的保存是 no-op，没有网络调用
func TestNoopSaveWhenClean(t *testing.T) {
	api := newFakeAPI("doc1", "hello", 3)
	s, _ := OpenSession(context.Background(), api, NewLocalBus(), "doc1", User{ID: "u1"}, noAutoSave)
	defer s.Close()

	if err := s.Save(context.Background()); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if n := api.writeCount(); n != 0 {
		t.Fatalf("conditional writes = %d, want 0", n)
	}
}

// P3：广播通道把自己的编辑事件回显回来时必须丢弃
func TestEchoSuppression(t *testing.T) {
	api := newFakeAPI("doc1", "hello", 3)
	bus := NewLocalBus()
	s, _ := OpenSession(context.Background(), api, bus, "doc1", User{ID: "u1"}, noAutoSave)
	defer s.Close()

	s.EditBuffer("hello world", 11)
	// 模拟回显：同一个用户的 fileEdited
	_ = bus.Publish(FileTopic("doc1"), Event{
		Type: EvtFileEdited, FileID: "doc1", User: &User{ID: "u1"},
		Content: "stale echo", Version: 99,
	})

	st := s.Snapshot()
	if st.Buffer != "hello world" || !st.Dirty || st.Version != 3 {
		t.Fatalf("echo was applied: %q v%d dirty=%v", st.Buffer, st.Version, st.Dirty)
	}
}

// 远端编辑整体覆盖本地缓冲并清 dirty（有损但与参考行为一致）
func TestRemoteEditOverwrites(t *testing.T) {
	api := newFakeAPI("doc1", "hello", 3)
	bus := NewLocalBus()
	s, _ := OpenSession(context.Background(), api, bus, "doc1", User{ID: "u1"}, noAutoSave)
	defer s.Close()

	s.EditBuffer("hello local", 11)
	_ = bus.Publish(FileTopic("doc1"), Event{
		Type: EvtFileEdited, FileID: "doc1", User: &User{ID: "u2"},
		Content: "hello remote", Version: 4,
	})

	st := s.Snapshot()
	if st.Buffer != "hello remote" || st.Version != 4 || st.Dirty {
		t.Fatalf("remote edit not applied: %q v%d dirty=%v", st.Buffer, st.Version, st.Dirty)
	}
}

// 关闭会话要取消待发的 debounce 广播
func TestCloseCancelsPendingBroadcast(t *testing.T) {
	api := newFakeAPI("doc1", "hello", 3)
	bus := NewLocalBus()
	edits, unsub := collectEvents(bus, FileTopic("doc1"), EvtFileEdit)
	defer unsub()

	s, _ := OpenSession(context.Background(), api, bus, "doc1", User{ID: "u1"}, noAutoSave)
	s.EditBuffer("typed just before close", 5)
	s.Close()

	time.Sleep(60 * time.Millisecond)
	if len(*edits) != 0 {
		t.Fatalf("edit broadcast after close: %v", *edits)
	}
}

// 传输错误：dirty 保留、版本不动，错误带 ErrSaveFailed
func TestSaveTransportError(t *testing.T) {
	api := newFakeAPI("doc1", "hello", 3)
	api.saveErr = errors.New("connection reset")
	s, _ := OpenSession(context.Background(), api, NewLocalBus(), "doc1", User{ID: "u1"}, noAutoSave)
	defer s.Close()

	s.EditBuffer("hello!", 6)
	err := s.Save(context.Background())
	if !errors.Is(err, ErrSaveFailed) {
		t.Fatalf("err = %v, want ErrSaveFailed", err)
	}
	st := s.Snapshot()
	if !st.Dirty || st.Version != 3 || st.Buffer != "hello!" {
		t.Fatalf("state mutated on transport error: %q v%d dirty=%v", st.Buffer, st.Version, st.Dirty)
	}
}

// 关闭后才返回的在途保存结果要被丢弃
func TestInflightSaveDiscardedAfterClose(t *testing.T) {
	api := newFakeAPI("doc1", "hello", 3)
	api.block = make(chan struct{})
	s, _ := OpenSession(context.Background(), api, NewLocalBus(), "doc1", User{ID: "u1"}, noAutoSave)

	s.EditBuffer("hello!", 6)
	done := make(chan error, 1)
	go func() { done <- s.Save(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	s.Close()
	close(api.block)

	if err := <-done; err != nil {
		t.Fatalf("Save error after close: %v", err)
	}
}

// P1：同一文档的连续成功保存，版本严格 +1 递增
func TestVersionMonotonic(t *testing.T) {
	api := newFakeAPI("doc1", "", 1)
	s, _ := OpenSession(context.Background(), api, NewLocalBus(), "doc1", User{ID: "u1"}, noAutoSave)
	defer s.Close()

	want := uint64(1)
	for i := 0; i < 5; i++ {
		s.EditBuffer("rev", i)
		if err := s.Save(context.Background()); err != nil {
			t.Fatalf("Save #%d error: %v", i, err)
		}
		want++
		if st := s.Snapshot(); st.Version != want {
			t.Fatalf("version after save #%d = %d, want %d", i, st.Version, want)
		}
	}
}

// P2 / E2E 场景 2：A、B 同在 v5，A 先保存成功，B 随后冲突并收敛到 A 的内容。
// A、B 用各自的广播通道（模拟 B 没收到 A 的 fileSaved），只共享存储。
func TestConflictConvergence(t *testing.T) {
	api := newFakeAPI("doc2", "base", 5)

	a, _ := OpenSession(context.Background(), api, NewLocalBus(), "doc2", User{ID: "ua", Name: "A"}, noAutoSave)
	defer a.Close()
	b, _ := OpenSession(context.Background(), api, NewLocalBus(), "doc2", User{ID: "ub", Name: "B"}, noAutoSave)
	defer b.Close()

	a.EditBuffer("A's content", 0)
	if err := a.Save(context.Background()); err != nil {
		t.Fatalf("A save error: %v", err)
	}
	if st := a.Snapshot(); st.Version != 6 {
		t.Fatalf("A version = %d, want 6", st.Version)
	}

	b.EditBuffer("B's content", 0)
	if err := b.Save(context.Background()); err != nil {
		t.Fatalf("B save error: %v", err)
	}
	st := b.Snapshot()
	if st.Buffer != "A's content" || st.Version != 6 || st.Dirty {
		t.Fatalf("B did not converge: %q v%d dirty=%v", st.Buffer, st.Version, st.Dirty)
	}
	if st.LastSaveStatus == "" {
		t.Fatalf("conflict must surface a user-visible notice")
	}
}

// 自动保存：dirty 状态下到点触发，无需显式调用
func TestAutoSave(t *testing.T) {
	api := newFakeAPI("doc1", "hello", 3)
	s, _ := OpenSession(context.Background(), api, NewLocalBus(), "doc1", User{ID: "u1"},
		Options{DebounceWindow: 10 * time.Millisecond, AutoSaveEvery: 30 * time.Millisecond})
	defer s.Close()

	s.EditBuffer("hello auto", 10)
	time.Sleep(100 * time.Millisecond)

	if n := api.writeCount(); n == 0 {
		t.Fatalf("auto-save never fired")
	}
	if st := s.Snapshot(); st.Dirty || st.Version != 4 {
		t.Fatalf("after auto-save: v%d dirty=%v, want v4 clean", st.Version, st.Dirty)
	}
}

// 对端的 fileSaved 让本会话不用重新 fetch 就对齐版本
func TestPeerSaveReconciles(t *testing.T) {
	api := newFakeAPI("doc3", "base", 2)
	bus := NewLocalBus()

	a, _ := OpenSession(context.Background(), api, bus, "doc3", User{ID: "ua", Name: "A"}, noAutoSave)
	defer a.Close()
	b, _ := OpenSession(context.Background(), api, bus, "doc3", User{ID: "ub", Name: "B"}, noAutoSave)
	defer b.Close()

	a.EditBuffer("A wrote this", 0)
	if err := a.Save(context.Background()); err != nil {
		t.Fatalf("A save error: %v", err)
	}

	st := b.Snapshot()
	if st.Version != 3 || st.Buffer != "A wrote this" || st.Dirty {
		t.Fatalf("B not reconciled by fileSaved: %q v%d dirty=%v", st.Buffer, st.Version, st.Dirty)
	}
}
