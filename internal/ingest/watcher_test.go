package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestSpoolWatcherProcessFile(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newTestService(store)
	defer svc.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "buffered.ndjson")
	content := `{"signal":"marker","device_id":"H10A","ts":1700000000000}
{"signal":"marker","device_id":"H10A","ts":1700000001000}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	sw := NewSpoolWatcher(svc, dir, zerolog.Nop())
	sw.processFile(context.Background(), path)

	if got := sw.filesProcessed.Load(); got != 1 {
		t.Errorf("filesProcessed = %d, want 1", got)
	}
	if _, err := os.Stat(path + ".done"); err != nil {
		t.Errorf("processed file not renamed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original file still present after rename")
	}

	store.mu.Lock()
	n := len(store.signals)
	store.mu.Unlock()
	if n != 2 {
		t.Errorf("persisted %d records from spool file, want 2", n)
	}
}

func TestSpoolWatcherReplayExisting(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newTestService(store)
	defer svc.Close()

	dir := t.TempDir()
	files := map[string]string{
		"a.ndjson": `{"signal":"marker","device_id":"H10A","ts":1700000000000}` + "\n",
		"b.jsonl":  `{"signal":"marker","device_id":"H10B","ts":1700000000000}` + "\n",
		"c.txt":    "not a spool file\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	sw := NewSpoolWatcher(svc, dir, zerolog.Nop())
	sw.replayExisting(context.Background())

	if got := sw.filesProcessed.Load(); got != 2 {
		t.Errorf("filesProcessed = %d, want 2 (txt ignored)", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "c.txt")); err != nil {
		t.Error("non-spool file should be untouched")
	}
}

func TestContentTypeSniffing(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    string
	}{
		{"single_object", `{"signal":"marker"}`, "application/json"},
		{"array", "[\n{\"signal\":\"marker\"}\n]", "application/json"},
		{"ndjson", "{\"signal\":\"marker\"}\n{\"signal\":\"marker\"}", "application/x-ndjson"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := contentTypeFor([]byte(tc.payload)); got != tc.want {
				t.Errorf("contentTypeFor = %q, want %q", got, tc.want)
			}
		})
	}
}
