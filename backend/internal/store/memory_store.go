package store

import (
	"context"
	"sync"
	"time"

	"fileCollab/backend/internal/fileedit"
)

// MemoryFileStore：内存实现，满足 FileStore 接口。
// 单测与单机演示用；条件写在锁内完成，原子性与 MySQL 实现等价。
type MemoryFileStore struct {
	mu    sync.Mutex
	files map[string]*memFile
}

type memFile struct {
	file    fileedit.File
	collabs map[string]fileedit.User
}

func NewMemoryFileStore() *MemoryFileStore {
	return &MemoryFileStore{files: make(map[string]*memFile)}
}

func (s *MemoryFileStore) FetchFile(ctx context.Context, id string) (*fileedit.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mf, ok := s.files[id]
	if !ok {
		return nil, ErrFileNotFound
	}
	cp := mf.snapshot()
	return &cp, nil
}

func (s *MemoryFileStore) ConditionalWrite(ctx context.Context, id, content string, expectedVersion uint64) (fileedit.SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mf, ok := s.files[id]
	if !ok {
		return fileedit.SaveResult{}, ErrFileNotFound
	}
	if mf.file.Version != expectedVersion {
		return fileedit.SaveResult{
			Conflict:       true,
			CurrentVersion: mf.file.Version,
			CurrentContent: mf.file.Content,
		}, nil
	}
	mf.file.Content = content
	mf.file.Version++
	mf.file.LastModified = time.Now()
	cp := mf.snapshot()
	return fileedit.SaveResult{NewVersion: mf.file.Version, File: &cp}, nil
}

func (s *MemoryFileStore) Create(ctx context.Context, f *fileedit.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[f.ID]; ok {
		return ErrFileExists
	}
	if f.Version == 0 {
		f.Version = 1
	}
	mf := &memFile{file: *f, collabs: make(map[string]fileedit.User)}
	for _, u := range f.Collaborators {
		mf.collabs[u.ID] = u
	}
	mf.file.Collaborators = nil
	s.files[f.ID] = mf
	return nil
}

func (s *MemoryFileStore) AddCollaborator(ctx context.Context, fileID string, u fileedit.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mf, ok := s.files[fileID]
	if !ok {
		return ErrFileNotFound
	}
	if _, exists := mf.collabs[u.ID]; !exists {
		mf.collabs[u.ID] = u
	}
	return nil
}

func (mf *memFile) snapshot() fileedit.File {
	cp := mf.file
	cp.Collaborators = make([]fileedit.User, 0, len(mf.collabs))
	for _, u := range mf.collabs {
		cp.Collaborators = append(cp.Collaborators, u)
	}
	return cp
}
