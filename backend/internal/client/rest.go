package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fileCollab/backend/internal/fileedit"
)

// RESTDocumentAPI：fileedit.DocumentAPI 的 HTTP 实现，对接文件服务的 REST 面。
// 409 翻译成 Conflict 结果而不是 error——版本冲突是乐观并发的正常结局。
type RESTDocumentAPI struct {
	base  string
	token string
	hc    *http.Client
}

func NewRESTDocumentAPI(base, token string) *RESTDocumentAPI {
	return &RESTDocumentAPI{
		base:  strings.TrimRight(base, "/"),
		token: token,
		hc:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *RESTDocumentAPI) FetchFile(ctx context.Context, id string) (*fileedit.File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+"/v1/files/"+id, nil)
	if err != nil {
		return nil, err
	}
	a.setHeaders(req)

	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch file %s: unexpected status %d", id, resp.StatusCode)
	}
	var f fileedit.File
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

type saveReq struct {
	Content string `json:"content"`
	Version uint64 `json:"version"`
}

type saveOKResp struct {
	Version uint64         `json:"version"`
	File    *fileedit.File `json:"file"`
}

type conflictResp struct {
	CurrentVersion uint64 `json:"currentVersion"`
	CurrentContent string `json:"currentContent"`
}

func (a *RESTDocumentAPI) ConditionalWrite(ctx context.Context, id, content string, expectedVersion uint64) (fileedit.SaveResult, error) {
	body, err := json.Marshal(saveReq{Content: content, Version: expectedVersion})
	if err != nil {
		return fileedit.SaveResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, a.base+"/v1/files/"+id, bytes.NewReader(body))
	if err != nil {
		return fileedit.SaveResult{}, err
	}
	a.setHeaders(req)

	resp, err := a.hc.Do(req)
	if err != nil {
		return fileedit.SaveResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var ok saveOKResp
		if err := json.NewDecoder(resp.Body).Decode(&ok); err != nil {
			return fileedit.SaveResult{}, err
		}
		return fileedit.SaveResult{NewVersion: ok.Version, File: ok.File}, nil
	case http.StatusConflict:
		var cf conflictResp
		if err := json.NewDecoder(resp.Body).Decode(&cf); err != nil {
			return fileedit.SaveResult{}, err
		}
		return fileedit.SaveResult{
			Conflict:       true,
			CurrentVersion: cf.CurrentVersion,
			CurrentContent: cf.CurrentContent,
		}, nil
	default:
		return fileedit.SaveResult{}, fmt.Errorf("save file %s: unexpected status %d", id, resp.StatusCode)
	}
}

func (a *RESTDocumentAPI) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
}
