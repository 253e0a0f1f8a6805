package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// SpoolWatcher replays NDJSON record files dropped into a spool
// directory, for gateways that buffer to disk while offline. Processed
// files are renamed with a .done suffix so a restart does not replay
// them twice.
type SpoolWatcher struct {
	svc *Service
	dir string
	log zerolog.Logger

	watcher *fsnotify.Watcher

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	filesProcessed atomic.Int64
	filesSkipped   atomic.Int64
}

// NewSpoolWatcher returns a watcher over dir. Call Run to start it.
func NewSpoolWatcher(svc *Service, dir string, log zerolog.Logger) *SpoolWatcher {
	return &SpoolWatcher{
		svc:            svc,
		dir:            dir,
		log:            log.With().Str("component", "spool").Logger(),
		debounceTimers: make(map[string]*time.Timer),
	}
}

// Run processes files already present in the spool, then watches for
// new ones until ctx is cancelled.
func (sw *SpoolWatcher) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	sw.watcher = w
	defer w.Close()

	if err := w.Add(sw.dir); err != nil {
		return err
	}
	sw.log.Info().Str("dir", sw.dir).Msg("spool watcher started")

	sw.replayExisting(ctx)

	for {
		select {
		case <-ctx.Done():
			sw.log.Info().
				Int64("files_processed", sw.filesProcessed.Load()).
				Int64("files_skipped", sw.filesSkipped.Load()).
				Msg("spool watcher stopped")
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isSpoolFile(event.Name) {
				continue
			}
			sw.scheduleProcess(ctx, event.Name)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			sw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

func (sw *SpoolWatcher) replayExisting(ctx context.Context) {
	entries, err := os.ReadDir(sw.dir)
	if err != nil {
		sw.log.Warn().Err(err).Msg("spool scan failed")
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isSpoolFile(e.Name()) {
			continue
		}
		sw.processFile(ctx, filepath.Join(sw.dir, e.Name()))
	}
}

// scheduleProcess debounces by 500ms so a file still being written is
// read only once, after the writes settle.
func (sw *SpoolWatcher) scheduleProcess(ctx context.Context, path string) {
	sw.debounceMu.Lock()
	defer sw.debounceMu.Unlock()

	if t, ok := sw.debounceTimers[path]; ok {
		t.Reset(500 * time.Millisecond)
		return
	}
	sw.debounceTimers[path] = time.AfterFunc(500*time.Millisecond, func() {
		sw.debounceMu.Lock()
		delete(sw.debounceTimers, path)
		sw.debounceMu.Unlock()

		sw.processFile(ctx, path)
	})
}

func (sw *SpoolWatcher) processFile(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		sw.log.Warn().Err(err).Str("path", path).Msg("spool file open failed")
		sw.filesSkipped.Add(1)
		return
	}
	res, err := sw.svc.IngestBody(ctx, f, "application/x-ndjson")
	f.Close()
	if err != nil {
		sw.log.Warn().Err(err).Str("path", path).Msg("spool file rejected")
		sw.filesSkipped.Add(1)
		return
	}

	if err := os.Rename(path, path+".done"); err != nil {
		sw.log.Warn().Err(err).Str("path", path).Msg("spool file rename failed")
	}
	sw.filesProcessed.Add(1)
	sw.log.Info().
		Str("path", path).
		Int("accepted", res.Accepted).
		Msg("spool file replayed")
}

// Stats reports processed and skipped file counts since start.
func (sw *SpoolWatcher) Stats() (processed, skipped int64) {
	return sw.filesProcessed.Load(), sw.filesSkipped.Load()
}

func isSpoolFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".ndjson") || strings.HasSuffix(lower, ".jsonl")
}
