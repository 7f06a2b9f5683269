package store

import (
	"context"
	"sync"
	"testing"

	"fileCollab/backend/internal/fileedit"
)

func newDoc(t *testing.T, s *MemoryFileStore, id, content string) {
	t.Helper()
	if err := s.Create(context.Background(), &fileedit.File{ID: id, Name: id, Content: content}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
}

func TestCreateSeedsVersionOne(t *testing.T) {
	s := NewMemoryFileStore()
	newDoc(t, s, "f1", "hello")

	f, err := s.FetchFile(context.Background(), "f1")
	if err != nil {
		t.Fatalf("FetchFile error: %v", err)
	}
	if f.Version != 1 || f.Content != "hello" {
		t.Fatalf("got %q v%d, want hello v1", f.Content, f.Version)
	}
}

func TestConditionalWriteBumpsByOne(t *testing.T) {
	s := NewMemoryFileStore()
	newDoc(t, s, "f1", "a")

	res, err := s.ConditionalWrite(context.Background(), "f1", "b", 1)
	if err != nil {
		t.Fatalf("ConditionalWrite error: %v", err)
	}
	if res.Conflict || res.NewVersion != 2 {
		t.Fatalf("result = %+v, want success v2", res)
	}

	// 过期版本必须拿到冲突 + 当前状态，而不是错误
	res, err = s.ConditionalWrite(context.Background(), "f1", "c", 1)
	if err != nil {
		t.Fatalf("ConditionalWrite error: %v", err)
	}
	if !res.Conflict || res.CurrentVersion != 2 || res.CurrentContent != "b" {
		t.Fatalf("conflict result = %+v, want current (b, v2)", res)
	}
}

func TestConditionalWriteMissingFile(t *testing.T) {
	s := NewMemoryFileStore()
	if _, err := s.ConditionalWrite(context.Background(), "nope", "x", 1); err != ErrFileNotFound {
		t.Fatalf("err = %v, want ErrFileNotFound", err)
	}
}

// P1/P2 的存储侧：并发条件写中同一个前置版本恰好一个赢家
func TestConcurrentWritersOneWinner(t *testing.T) {
	s := NewMemoryFileStore()
	newDoc(t, s, "f1", "base")

	const writers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := s.ConditionalWrite(context.Background(), "f1", "from writer", 1)
			if err != nil {
				t.Errorf("writer %d error: %v", n, err)
				return
			}
			mu.Lock()
			if res.Conflict {
				conflicts++
			} else {
				wins++
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflicts != writers-1 {
		t.Fatalf("wins=%d conflicts=%d, want 1/%d", wins, conflicts, writers-1)
	}
	f, _ := s.FetchFile(context.Background(), "f1")
	if f.Version != 2 {
		t.Fatalf("version = %d, want 2", f.Version)
	}
}

func TestAddCollaboratorDedupe(t *testing.T) {
	s := NewMemoryFileStore()
	newDoc(t, s, "f1", "")

	u := fileedit.User{ID: "u1", Name: "Alice"}
	_ = s.AddCollaborator(context.Background(), "f1", u)
	_ = s.AddCollaborator(context.Background(), "f1", u)

	f, _ := s.FetchFile(context.Background(), "f1")
	if len(f.Collaborators) != 1 {
		t.Fatalf("collaborators = %d, want 1", len(f.Collaborators))
	}
}
