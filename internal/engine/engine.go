// Package engine implements the offline-first sync engine.
//
// The engine reconciles the local record store with a remote authority. One
// cycle drains up to a batch of pending records, uploads them while
// concurrently downloading remote changes since the last watermark, merges
// downloads through the conflict resolver, and clears confirmed ids from the
// pending set.
//
// The core invariant is at-most-one concurrent cycle: SyncNow is a guarded
// no-op while a cycle is running, so timer re-arms, reachability events and
// caller requests can all funnel into it without debouncing. Nothing in a
// cycle is fatal — a failed upload leaves its ids pending for the next cycle,
// a failed download yields zero merges, and the engine always returns to
// idle so future triggers can retry.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/driftlab/edgesync/internal/cloud"
	"github.com/driftlab/edgesync/internal/power"
	"github.com/driftlab/edgesync/internal/record"
	"github.com/driftlab/edgesync/internal/resolve"
	"github.com/driftlab/edgesync/internal/store"
)

// Engine orchestrates bidirectional sync between a Store and a cloud Client.
type Engine struct {
	store  store.Store
	client cloud.Client
	policy resolve.Policy
	logger *log.Logger

	// wm is set when the store persists the download watermark, so delta
	// syncs survive restarts. Nil for stores without one.
	wm store.WatermarkStore

	// mu guards the engine's own state: the syncing flag, schedule fields,
	// watermark, last result and subscriber list. It is never held across
	// a network call.
	mu           sync.Mutex
	syncing      bool
	batchSize    int
	baseInterval time.Duration
	cycleTimeout time.Duration
	lastSync     time.Time
	haveLastSync bool
	lastResult   record.SyncResult
	haveResult   bool
	subscribers  []func(record.SyncResult)

	cycleWG sync.WaitGroup
	metrics *metrics
}

// Config holds configuration for the engine.
type Config struct {
	// Store is the local record store. Required.
	Store store.Store

	// Client is the remote authority client. Required.
	Client cloud.Client

	// Policy selects conflict resolution (default: HighestVersionWins).
	Policy resolve.Policy

	// BatchSize is how many pending records one cycle drains
	// (default: power.DefaultTuning.BatchSize).
	BatchSize int

	// BaseInterval is the periodic schedule (default:
	// power.DefaultTuning.BaseInterval).
	BaseInterval time.Duration

	// CycleTimeout bounds one cycle's network calls (default: 30s).
	// Expiry degrades the cycle's counts; the engine still returns to idle.
	CycleTimeout time.Duration

	// Logger for engine activity (default: stderr logger).
	Logger *log.Logger

	// Registerer receives the engine's Prometheus metrics. Nil disables
	// registration (metrics are still tracked, just not exported).
	Registerer prometheus.Registerer
}

// New creates a sync engine.
func New(config *Config) (*Engine, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config.Client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}

	policy := config.Policy
	if policy == "" {
		policy = resolve.HighestVersionWins
	}
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = power.DefaultTuning.BatchSize
	}
	baseInterval := config.BaseInterval
	if baseInterval <= 0 {
		baseInterval = power.DefaultTuning.BaseInterval
	}
	cycleTimeout := config.CycleTimeout
	if cycleTimeout <= 0 {
		cycleTimeout = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	eng := &Engine{
		store:        config.Store,
		client:       config.Client,
		policy:       policy,
		logger:       logger,
		batchSize:    batchSize,
		baseInterval: baseInterval,
		cycleTimeout: cycleTimeout,
		metrics:      newMetrics(config.Registerer),
	}

	if ws, ok := config.Store.(store.WatermarkStore); ok {
		eng.wm = ws
		ts, ok, err := ws.Watermark()
		if err != nil {
			return nil, fmt.Errorf("failed to load watermark: %w", err)
		}
		if ok {
			eng.lastSync = ts
			eng.haveLastSync = true
		}
	}

	return eng, nil
}

// Enqueue records a local write: the record is saved and marked pending for
// upload. An empty id gets a generated UUID; a zero version or timestamp is
// filled in from the stored copy and the wall clock. A version at or below
// the stored one is bumped past it, so versions stay monotonic per id no
// matter what the producer hands in (spool files, for example, carry
// whatever version the producer last knew). Fire-and-forget from the
// caller's view — delivery happens on a later cycle.
func (e *Engine) Enqueue(rec record.Record) (record.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	existing, ok, err := e.store.Get(rec.ID)
	if err != nil {
		return record.Record{}, fmt.Errorf("failed to look up %s: %w", rec.ID, err)
	}
	if ok && rec.Version <= existing.Version {
		rec.Version = existing.Version + 1
	} else if rec.Version == 0 {
		rec.Version = 1
	}
	if err := rec.Validate(); err != nil {
		return record.Record{}, fmt.Errorf("invalid record: %w", err)
	}

	if err := e.store.Save(rec, true); err != nil {
		return record.Record{}, fmt.Errorf("failed to save %s: %w", rec.ID, err)
	}

	e.updatePendingDepth()
	return rec, nil
}

// SyncNow requests an immediate cycle. If a cycle is already running this is
// a no-op; otherwise the cycle runs in the background and SyncNow returns
// immediately. Observers poll IsSyncing/LastResult or Subscribe.
func (e *Engine) SyncNow() {
	if !e.beginCycle() {
		return
	}
	e.cycleWG.Add(1)
	go func() {
		defer e.cycleWG.Done()
		e.runCycle()
	}()
}

// SyncOnce runs a single cycle synchronously and returns its result.
// Returns false without running if a cycle is already in flight.
func (e *Engine) SyncOnce() (record.SyncResult, bool) {
	if !e.beginCycle() {
		return record.SyncResult{}, false
	}
	return e.runCycle(), true
}

// Run drives the periodic schedule: after each cycle, successful or not, the
// timer re-arms at the current base interval, so tuning changes take effect
// on the next arm. Run blocks until ctx is cancelled. An in-flight cycle is
// never interrupted; use Wait to drain it after cancellation.
func (e *Engine) Run(ctx context.Context) {
	for {
		e.mu.Lock()
		interval := e.baseInterval
		e.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if e.beginCycle() {
				e.runCycle()
			}
		}
	}
}

// Wait blocks until any in-flight background cycle has completed.
func (e *Engine) Wait() {
	e.cycleWG.Wait()
}

// IsSyncing reports whether a cycle is currently running.
func (e *Engine) IsSyncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

// LastSync returns the download watermark and whether one exists yet.
func (e *Engine) LastSync() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync, e.haveLastSync
}

// LastResult returns the most recent cycle's summary and whether any cycle
// has completed yet.
func (e *Engine) LastResult() (record.SyncResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastResult, e.haveResult
}

// Tuning returns the schedule currently in effect.
func (e *Engine) Tuning() power.Tuning {
	e.mu.Lock()
	defer e.mu.Unlock()
	return power.Tuning{BatchSize: e.batchSize, BaseInterval: e.baseInterval}
}

// ApplyTuning atomically swaps the batch size and base interval used by the
// next scheduled cycle. An in-flight cycle keeps the values it started with.
func (e *Engine) ApplyTuning(t power.Tuning) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t.BatchSize > 0 {
		e.batchSize = t.BatchSize
	}
	if t.BaseInterval > 0 {
		e.baseInterval = t.BaseInterval
	}
	e.logger.Printf("Tuning applied: batch=%d interval=%v", e.batchSize, e.baseInterval)
}

// Subscribe registers a callback invoked with each cycle's result, after the
// engine has returned to idle. Callbacks run on the cycle's goroutine and
// should be quick.
func (e *Engine) Subscribe(fn func(record.SyncResult)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, fn)
}

// beginCycle flips Idle -> Syncing. Returns false if already syncing.
func (e *Engine) beginCycle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncing {
		return false
	}
	e.syncing = true
	e.metrics.syncing.Set(1)
	return true
}

// runCycle executes one upload+download+merge pass. The caller must have won
// beginCycle. The cycle runs on its own timeout context, detached from any
// daemon context: once started, a cycle always runs to completion.
func (e *Engine) runCycle() record.SyncResult {
	e.mu.Lock()
	batchSize := e.batchSize
	since := e.lastSync
	timeout := e.cycleTimeout
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var result record.SyncResult

	batch, err := e.store.FetchPending(batchSize)
	if err != nil {
		// Degraded cycle: nothing to upload, but the download leg still runs.
		e.logger.Printf("Failed to fetch pending records: %v", err)
		batch = nil
	}

	// Fan out upload and download, join before any bookkeeping.
	cycleStart := time.Now()
	var (
		wg          sync.WaitGroup
		accepted    []string
		uploadErr   error
		remote      []record.Record
		downloadErr error
	)

	if len(batch) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			accepted, uploadErr = e.client.Upload(ctx, batch)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		remote, downloadErr = e.client.Download(ctx, since)
	}()

	wg.Wait()

	// Upload bookkeeping: confirmed ids leave the pending set, everything
	// else stays pending and retries next cycle.
	if uploadErr != nil {
		e.logger.Printf("Upload of %d records failed: %v", len(batch), uploadErr)
		e.metrics.uploadErrors.Inc()
	} else if len(accepted) > 0 {
		if err := e.store.MarkSynced(accepted); err != nil {
			e.logger.Printf("Failed to clear %d synced ids: %v", len(accepted), err)
		} else {
			result.Uploaded = len(accepted)
		}
	}

	// Download merge. Remote-origin writes are never re-marked pending.
	if downloadErr != nil {
		e.logger.Printf("Download since %v failed: %v", since, downloadErr)
		e.metrics.downloadErrors.Inc()
	} else if len(remote) > 0 {
		merged, conflicts := e.mergeRemote(remote)
		result.Downloaded = merged
		result.Conflicts = conflicts
	}

	e.mu.Lock()
	if downloadErr == nil {
		// Advance the watermark only when the download leg succeeded,
		// and only to the cycle's start: a failed download must re-fetch
		// the same window next cycle or remote deltas would be lost.
		e.lastSync = cycleStart
		e.haveLastSync = true
	}
	e.lastResult = result
	e.haveResult = true
	e.syncing = false
	subs := make([]func(record.SyncResult), len(e.subscribers))
	copy(subs, e.subscribers)
	e.mu.Unlock()

	if downloadErr == nil && e.wm != nil {
		if err := e.wm.SetWatermark(cycleStart); err != nil {
			e.logger.Printf("Failed to persist watermark: %v", err)
		}
	}

	e.metrics.syncing.Set(0)
	e.metrics.cycles.Inc()
	e.metrics.uploaded.Add(float64(result.Uploaded))
	e.metrics.downloaded.Add(float64(result.Downloaded))
	e.metrics.conflicts.Add(float64(result.Conflicts))
	e.updatePendingDepth()

	e.logger.Printf("Cycle complete: uploaded=%d downloaded=%d conflicts=%d",
		result.Uploaded, result.Downloaded, result.Conflicts)

	for _, fn := range subs {
		fn(result)
	}
	return result
}

// mergeRemote applies downloaded records against a store snapshot, resolving
// conflicts for ids that exist locally. Returns the number of records merged
// and the number whose resolution differed from the local value.
func (e *Engine) mergeRemote(remote []record.Record) (merged, conflicts int) {
	snapshot, err := e.store.FetchAll()
	if err != nil {
		e.logger.Printf("Failed to snapshot store for merge: %v", err)
		return 0, 0
	}
	local := make(map[string]record.Record, len(snapshot))
	for _, rec := range snapshot {
		local[rec.ID] = rec
	}

	for _, rec := range remote {
		if err := rec.Validate(); err != nil {
			e.logger.Printf("Skipping invalid remote record %q: %v", rec.ID, err)
			continue
		}

		mine, ok := local[rec.ID]
		if !ok {
			if err := e.store.Save(rec, false); err != nil {
				e.logger.Printf("Failed to save remote record %s: %v", rec.ID, err)
				continue
			}
			merged++
			continue
		}

		winner := resolve.Resolve(e.policy, mine, rec)
		if !winner.Equal(mine) {
			if err := e.store.Save(winner, false); err != nil {
				e.logger.Printf("Failed to save resolved record %s: %v", rec.ID, err)
				continue
			}
			conflicts++
		}
		merged++
	}
	return merged, conflicts
}

func (e *Engine) updatePendingDepth() {
	ids, err := e.store.Pending()
	if err != nil {
		return
	}
	e.metrics.pendingDepth.Set(float64(len(ids)))
}
