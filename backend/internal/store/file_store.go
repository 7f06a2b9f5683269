package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"fileCollab/backend/internal/fileedit"
)

var (
	ErrFileNotFound = errors.New("FILE_NOT_FOUND")
	ErrFileExists   = errors.New("FILE_EXISTS")
)

// FileStore：文档存储。条件写是整个系统唯一的串行化点，
// 实现必须保证 check-and-write 原子（MySQL 靠带版本条件的单条 UPDATE，
// 内存实现靠互斥锁）。
type FileStore interface {
	fileedit.DocumentAPI
	Create(ctx context.Context, f *fileedit.File) error
	AddCollaborator(ctx context.Context, fileID string, u fileedit.User) error
}

type fileModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	Name           string `gorm:"size:255"`
	Content        string `gorm:"type:longtext"`
	FileType       string `gorm:"size:32"`
	Version        uint64
	Room           string `gorm:"size:64;index"`
	LastModifiedBy string `gorm:"size:64"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (fileModel) TableName() string { return "files" }

type collaboratorModel struct {
	FileID   string `gorm:"primaryKey;size:64"`
	UserID   string `gorm:"primaryKey;size:64"`
	Name     string `gorm:"size:255"`
	JoinedAt time.Time
}

func (collaboratorModel) TableName() string { return "file_collaborators" }

type GormFileStore struct {
	db *gorm.DB
}

func NewGormFileStore(db *gorm.DB) (*GormFileStore, error) {
	if err := db.AutoMigrate(&fileModel{}, &collaboratorModel{}); err != nil {
		return nil, err
	}
	return &GormFileStore{db: db}, nil
}

func (s *GormFileStore) FetchFile(ctx context.Context, id string) (*fileedit.File, error) {
	var m fileModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	var collabs []collaboratorModel
	if err := s.db.WithContext(ctx).Find(&collabs, "file_id = ?", id).Error; err != nil {
		return nil, err
	}
	return toFile(&m, collabs), nil
}

// ConditionalWrite：乐观并发保存。
// UPDATE ... WHERE id=? AND version=? 一条语句完成校验与写入，
// RowsAffected=0 即版本冲突，读出当前状态随 Conflict 返回。
func (s *GormFileStore) ConditionalWrite(ctx context.Context, id, content string, expectedVersion uint64) (fileedit.SaveResult, error) {
	var out fileedit.SaveResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&fileModel{}).
			Where("id = ? AND version = ?", id, expectedVersion).
			Updates(map[string]any{
				"content": content,
				"version": gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		var m fileModel
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrFileNotFound
			}
			return err
		}
		if res.RowsAffected == 0 {
			out = fileedit.SaveResult{Conflict: true, CurrentVersion: m.Version, CurrentContent: m.Content}
			return nil
		}
		var collabs []collaboratorModel
		if err := tx.Find(&collabs, "file_id = ?", id).Error; err != nil {
			return err
		}
		out = fileedit.SaveResult{NewVersion: m.Version, File: toFile(&m, collabs)}
		return nil
	})
	return out, err
}

func (s *GormFileStore) Create(ctx context.Context, f *fileedit.File) error {
	if f.Version == 0 {
		f.Version = 1
	}
	m := fileModel{
		ID:       f.ID,
		Name:     f.Name,
		Content:  f.Content,
		FileType: f.FileType,
		Version:  f.Version,
		Room:     f.Room,
	}
	if f.LastModifiedBy != nil {
		m.LastModifiedBy = f.LastModifiedBy.ID
	}
	err := s.db.WithContext(ctx).Create(&m).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrFileExists
	}
	return err
}

func (s *GormFileStore) AddCollaborator(ctx context.Context, fileID string, u fileedit.User) error {
	// 已在名单里就保持原 joined_at（按主键去重）
	return s.db.WithContext(ctx).
		Where(collaboratorModel{FileID: fileID, UserID: u.ID}).
		Attrs(collaboratorModel{Name: u.Name, JoinedAt: time.Now()}).
		FirstOrCreate(&collaboratorModel{}).Error
}

func toFile(m *fileModel, collabs []collaboratorModel) *fileedit.File {
	f := &fileedit.File{
		ID:           m.ID,
		Name:         m.Name,
		Content:      m.Content,
		FileType:     m.FileType,
		Version:      m.Version,
		Room:         m.Room,
		LastModified: m.UpdatedAt,
	}
	if m.LastModifiedBy != "" {
		f.LastModifiedBy = &fileedit.User{ID: m.LastModifiedBy}
	}
	for _, c := range collabs {
		f.Collaborators = append(f.Collaborators, fileedit.User{ID: c.UserID, Name: c.Name})
	}
	return f
}
