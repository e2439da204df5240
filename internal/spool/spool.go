// Package spool ingests local record mutations from a spool directory.
//
// Producers outside the daemon process write records as JSON files into the
// spool directory; the watcher picks them up, validates them, enqueues them
// as local writes on the sync engine, and removes the files. Writes should
// go through a temp-file-and-rename so the watcher never reads a partial
// file (record.WriteRecordFile does this).
//
// Rapid rewrites of the same file are debounced: events land in a
// timestamped change queue that a ticker drains once a file has been quiet
// for the debounce interval.
package spool

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/driftlab/edgesync/internal/record"
)

// Enqueuer receives records ingested from the spool. Satisfied by
// *engine.Engine.
type Enqueuer interface {
	Enqueue(rec record.Record) (record.Record, error)
}

// Watcher watches a spool directory and enqueues record files.
type Watcher struct {
	dir      string
	enqueuer Enqueuer
	debounce time.Duration
	logger   *log.Logger

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> last event time
	changeQueueMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// Config holds configuration for the spool watcher.
type Config struct {
	// Dir is the spool directory to watch. Required; created if missing.
	Dir string

	// Enqueuer receives ingested records. Required.
	Enqueuer Enqueuer

	// Debounce is how long a file must be quiet before it is read
	// (default: 100ms).
	Debounce time.Duration

	// Logger for watcher activity (default: stderr logger).
	Logger *log.Logger
}

// New creates a spool watcher. The watcher must be started with Start()
// before it will ingest files.
func New(config *Config) (*Watcher, error) {
	if config == nil || config.Dir == "" {
		return nil, fmt.Errorf("spool directory cannot be empty")
	}
	if config.Enqueuer == nil {
		return nil, fmt.Errorf("enqueuer cannot be nil")
	}
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	debounce := config.Debounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[spool] ", log.LstdFlags)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		dir:         config.Dir,
		enqueuer:    config.Enqueuer,
		debounce:    debounce,
		logger:      logger,
		watcher:     fsw,
		changeQueue: make(map[string]time.Time),
		done:        make(chan struct{}),
	}, nil
}

// Start ingests any files already in the spool, then begins watching.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := w.ingestExisting(); err != nil {
		return err
	}

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}
	w.running = true

	w.wg.Add(2)
	go w.watchEvents()
	go w.drainQueue()

	w.logger.Printf("Watching spool: %s", w.dir)
	return nil
}

// Stop halts watching. Queued but unprocessed files stay in the spool and
// are ingested on the next Start.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.watcher.Close(); err != nil {
		w.logger.Printf("Error closing watcher: %v", err)
	}
	w.wg.Wait()
	return nil
}

// ingestExisting processes files left in the spool from a previous run.
func (w *Watcher) ingestExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read spool directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isRecordFile(entry.Name()) {
			continue
		}
		w.ingestFile(filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

// watchEvents monitors filesystem events and queues changes.
func (w *Watcher) watchEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isRecordFile(filepath.Base(event.Name)) {
				continue
			}
			w.changeQueueMu.Lock()
			w.changeQueue[event.Name] = time.Now()
			w.changeQueueMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Watcher error: %v", err)
		}
	}
}

// drainQueue processes queued files once they have been quiet long enough.
func (w *Watcher) drainQueue() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.processQuiet()
		}
	}
}

func (w *Watcher) processQuiet() {
	now := time.Now()

	w.changeQueueMu.Lock()
	var ready []string
	for path, queuedAt := range w.changeQueue {
		if now.Sub(queuedAt) < w.debounce {
			continue
		}
		ready = append(ready, path)
		delete(w.changeQueue, path)
	}
	w.changeQueueMu.Unlock()

	for _, path := range ready {
		w.ingestFile(path)
	}
}

// ingestFile reads one record file, enqueues it, and removes the file.
// Failures leave the file in place for inspection; a record that fails to
// parse would fail the same way forever, so it is not re-queued.
func (w *Watcher) ingestFile(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}

	rec, err := record.ReadRecordFile(path)
	if err != nil {
		w.logger.Printf("WARNING: Failed to read spool file %s: %v", filepath.Base(path), err)
		return
	}

	if _, err := w.enqueuer.Enqueue(*rec); err != nil {
		w.logger.Printf("WARNING: Failed to enqueue %s: %v", rec.ID, err)
		return
	}

	if err := os.Remove(path); err != nil {
		w.logger.Printf("WARNING: Failed to remove spool file %s: %v", path, err)
		return
	}

	w.logger.Printf("Ingested record: %s (v%d)", rec.ID, rec.Version)
}

// isRecordFile reports whether a spool entry should be ingested.
// Temp files from atomic writes (dotfiles, .tmp suffix) are skipped.
func isRecordFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.HasSuffix(name, ".json")
}
