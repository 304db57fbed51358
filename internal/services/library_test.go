package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hubrts/youtube-command-deck/internal/logger"
)

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestSaveTranscriptRejectsBadURL(t *testing.T) {
	svc := NewLibraryService(testLog(t), nil, nil, t.TempDir())

	for _, url := range []string{"", "   ", "https://example.com/watch", "not a url"} {
		_, err := svc.SaveTranscriptFromURL(context.Background(), url, false)
		if !errors.Is(err, ErrBadVideoURL) {
			t.Fatalf("url %q: want=ErrBadVideoURL got=%v", url, err)
		}
	}
}

func TestRemoveMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "keep.json"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	removed := removeMatchingFiles(filepath.Join(dir, "*.txt"))
	if removed != 2 {
		t.Fatalf("removed: want=2 got=%d", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "keep.json")); err != nil {
		t.Fatalf("unmatched file should survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sub.txt")); err != nil {
		t.Fatalf("directories should survive: %v", err)
	}
}
