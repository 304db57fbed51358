package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/services"
	"github.com/hubrts/youtube-command-deck/internal/types"
)

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

type fakeCatalog struct {
	items  []services.VideoSummary
	detail services.VideoDetail
	err    error
}

func (f *fakeCatalog) ListVideos(context.Context) ([]services.VideoSummary, error) {
	return f.items, f.err
}

func (f *fakeCatalog) VideoDetail(context.Context, string) (services.VideoDetail, error) {
	return f.detail, f.err
}

func (f *fakeCatalog) ResolvePublicURL(string, *types.ArchiveRecord) string { return "" }

func doJSON(t *testing.T, handler gin.HandlerFunc, method, target string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	c.Request = httptest.NewRequest(method, target, &buf)
	c.Request.Header.Set("Content-Type", "application/json")
	handler(c)

	var parsed map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w, parsed
}

func TestListVideosEmptySliceNotNull(t *testing.T) {
	h := NewVideosHandler(testLog(t), &fakeCatalog{})
	w, parsed := doJSON(t, h.ListVideos, "GET", "/api/videos", nil)

	if w.Code != http.StatusOK || parsed["ok"] != true {
		t.Fatalf("response: code=%d body=%v", w.Code, parsed)
	}
	items, ok := parsed["items"].([]any)
	if !ok {
		t.Fatalf("items should be an array, got %T", parsed["items"])
	}
	if len(items) != 0 {
		t.Fatalf("items: want empty got=%v", items)
	}
}

func TestGetVideoRequiresValidID(t *testing.T) {
	h := NewVideosHandler(testLog(t), &fakeCatalog{})

	w, parsed := doJSON(t, h.GetVideo, "GET", "/api/video", nil)
	if w.Code != http.StatusBadRequest || parsed["error"] != "video_id is required" {
		t.Fatalf("missing id: code=%d body=%v", w.Code, parsed)
	}

	w, parsed = doJSON(t, h.GetVideo, "GET", "/api/video?video_id=bad%20id", nil)
	if w.Code != http.StatusBadRequest || parsed["ok"] != false {
		t.Fatalf("malformed id: code=%d body=%v", w.Code, parsed)
	}
}

func TestSaveTranscriptRequiresURL(t *testing.T) {
	h := NewMediaHandler(testLog(t), nil, nil)

	w, parsed := doJSON(t, h.SaveTranscript, "POST", "/api/save_transcript", map[string]any{})
	if w.Code != http.StatusBadRequest || parsed["error"] != "url is required" {
		t.Fatalf("missing url: code=%d body=%v", w.Code, parsed)
	}

	w, parsed = doJSON(t, h.SaveTranscript, "POST", "/api/save_transcript", map[string]any{"url": "   "})
	if w.Code != http.StatusBadRequest || parsed["error"] != "url is required" {
		t.Fatalf("blank url: code=%d body=%v", w.Code, parsed)
	}
}
