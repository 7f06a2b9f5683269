package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"fileCollab/backend/internal/fileedit"
	"fileCollab/backend/internal/store"
)

// 跳过鉴权中间件，直接把身份塞进 gin.Context
func testRouter(s store.FileStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userId", "u1")
		c.Set("username", "Alice")
	})
	h := NewFiles(s, nil, nil, nil)
	r.POST("/v1/files", h.Create)
	r.GET("/v1/files/:fileID", h.Get)
	r.PUT("/v1/files/:fileID", h.Save)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateAndGetFile(t *testing.T) {
	s := store.NewMemoryFileStore()
	r := testRouter(s)

	w := doJSON(t, r, http.MethodPost, "/v1/files", gin.H{"name": "notes.txt", "content": "hi"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created fileedit.File
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created file: %v", err)
	}
	if created.ID == "" || created.Version != 1 {
		t.Fatalf("created = %+v, want non-empty id and v1", created)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/files/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var got fileedit.File
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Content != "hi" {
		t.Fatalf("content = %q, want hi", got.Content)
	}
	// 创建者自动进协作者名单
	if len(got.Collaborators) != 1 || got.Collaborators[0].ID != "u1" {
		t.Fatalf("collaborators = %v, want creator only", got.Collaborators)
	}
}

func TestGetMissingFile(t *testing.T) {
	r := testRouter(store.NewMemoryFileStore())
	w := doJSON(t, r, http.MethodGet, "/v1/files/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestSaveHappyPathAndConflict(t *testing.T) {
	s := store.NewMemoryFileStore()
	if err := s.Create(context.Background(), &fileedit.File{ID: "f1", Name: "f1", Content: "base"}); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	r := testRouter(s)

	// 正确版本：200 + 新版本
	w := doJSON(t, r, http.MethodPut, "/v1/files/f1", gin.H{"content": "updated", "version": 1})
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}
	var ok struct {
		Version uint64 `json:"version"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &ok)
	if ok.Version != 2 {
		t.Fatalf("new version = %d, want 2", ok.Version)
	}

	// 过期版本：409 + 当前状态
	w = doJSON(t, r, http.MethodPut, "/v1/files/f1", gin.H{"content": "stale write", "version": 1})
	if w.Code != http.StatusConflict {
		t.Fatalf("conflict status = %d, want 409", w.Code)
	}
	var cf struct {
		Error          string `json:"error"`
		CurrentVersion uint64 `json:"currentVersion"`
		CurrentContent string `json:"currentContent"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &cf)
	if cf.Error != "VERSION_CONFLICT" || cf.CurrentVersion != 2 || cf.CurrentContent != "updated" {
		t.Fatalf("conflict body = %+v, want current (updated, v2)", cf)
	}

	// 冲突不落库
	f, _ := s.FetchFile(context.Background(), "f1")
	if f.Content != "updated" || f.Version != 2 {
		t.Fatalf("store state = %q v%d, want updated v2", f.Content, f.Version)
	}
}

func TestSaveMissingFile(t *testing.T) {
	r := testRouter(store.NewMemoryFileStore())
	w := doJSON(t, r, http.MethodPut, "/v1/files/nope", gin.H{"content": "x", "version": 1})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
