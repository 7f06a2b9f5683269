package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fileCollab/backend/internal/collab"
	"fileCollab/backend/internal/fileedit"
	"fileCollab/backend/internal/store"
)

// Files：文件的 REST 面。PUT 是整个系统唯一的持久化写入口（条件写）。
type Files struct {
	store      store.FileStore
	snapshots  *store.SnapshotStore // 可为 nil（内存模式）
	dispatcher *collab.ActivityDispatcher
	sem        *collab.SemaphoreControl
}

func NewFiles(s store.FileStore, snapshots *store.SnapshotStore, d *collab.ActivityDispatcher, sem *collab.SemaphoreControl) *Files {
	return &Files{store: s, snapshots: snapshots, dispatcher: d, sem: sem}
}

func currentUser(c *gin.Context) fileedit.User {
	return fileedit.User{ID: c.GetString("userId"), Name: c.GetString("username")}
}

func newFileID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

type createFileReq struct {
	Name     string `json:"name" binding:"required"`
	FileType string `json:"fileType"`
	Content  string `json:"content"`
	Room     string `json:"room"`
}

func (h *Files) Create(c *gin.Context) {
	var req createFileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u := currentUser(c)
	if req.FileType == "" {
		req.FileType = "text"
	}
	f := &fileedit.File{
		ID:             newFileID(),
		Name:           req.Name,
		Content:        req.Content,
		FileType:       req.FileType,
		Version:        1,
		Room:           req.Room,
		LastModifiedBy: &u,
	}
	if err := h.store.Create(c.Request.Context(), f); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "CREATE_FILE_FAILED"})
		return
	}
	_ = h.store.AddCollaborator(c.Request.Context(), f.ID, u)
	h.emit(collab.FileActivityEvent{
		EventType: collab.ActFileCreated, FileID: f.ID, FileName: f.Name,
		Version: 1, UserID: u.ID, UserName: u.Name, Room: f.Room, OccurredAt: time.Now(),
	})
	c.JSON(http.StatusCreated, f)
}

func (h *Files) Get(c *gin.Context) {
	f, err := h.store.FetchFile(c.Request.Context(), c.Param("fileID"))
	if err != nil {
		if errors.Is(err, store.ErrFileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "FILE_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "FETCH_FILE_FAILED"})
		return
	}
	c.JSON(http.StatusOK, f)
}

type saveFileReq struct {
	Content string `json:"content"`
	Version uint64 `json:"version" binding:"required"`
}

// Save：版本校验的条件写。
// - 成功：200 {version, file}
// - 版本冲突：409 {currentVersion, currentContent}，客户端用它收敛
// - 其他：5xx，客户端保留 dirty 可重试
func (h *Files) Save(c *gin.Context) {
	var req saveFileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fileID := c.Param("fileID")
	u := currentUser(c)

	// 限制并发写入量，打满时快速失败而不是堆积
	if h.sem != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 200*time.Millisecond)
		defer cancel()
		if err := h.sem.Acquire(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "BUSY"})
			return
		}
		defer h.sem.Release()
	}

	res, err := h.store.ConditionalWrite(c.Request.Context(), fileID, req.Content, req.Version)
	if err != nil {
		if errors.Is(err, store.ErrFileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "FILE_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "SAVE_FAILED"})
		return
	}

	if res.Conflict {
		h.emit(collab.FileActivityEvent{
			EventType: collab.ActSaveConflict, FileID: fileID,
			Version: res.CurrentVersion, UserID: u.ID, UserName: u.Name, OccurredAt: time.Now(),
		})
		c.JSON(http.StatusConflict, gin.H{
			"error":          "VERSION_CONFLICT",
			"currentVersion": res.CurrentVersion,
			"currentContent": res.CurrentContent,
		})
		return
	}

	// 成功路径之外的留痕都是 best-effort
	if h.snapshots != nil {
		if err := h.snapshots.SaveFileSnapshot(c.Request.Context(), fileID, res.NewVersion, req.Content); err != nil {
			log.Printf("save snapshot error (file=%s v=%d): %v", fileID, res.NewVersion, err)
		}
	}
	name := ""
	if res.File != nil {
		name = res.File.Name
	}
	h.emit(collab.FileActivityEvent{
		EventType: collab.ActSaveApplied, FileID: fileID, FileName: name,
		Version: res.NewVersion, UserID: u.ID, UserName: u.Name, OccurredAt: time.Now(),
	})

	c.JSON(http.StatusOK, gin.H{"version": res.NewVersion, "file": res.File})
}

func (h *Files) emit(evt collab.FileActivityEvent) {
	if h.dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := h.dispatcher.Enqueue(ctx, evt); err != nil {
		log.Printf("activity enqueue dropped (file=%s type=%s): %v", evt.FileID, evt.EventType, err)
	}
}
