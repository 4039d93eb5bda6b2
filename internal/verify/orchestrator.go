// Package verify tracks per-channel liveness and quality. It owns the
// verification records and the batch scheduler; probing itself is delegated
// to a Prober.
package verify

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/plextuner/m3u-curator/internal/safeurl"
)

var ErrBatchRunning = errors.New("verify: a batch is already running")

// Item is one unit of batch work.
type Item struct {
	ID  string
	URL string
}

// Progress is reported after every completed unit and once more when the
// batch ends (Running false).
type Progress struct {
	Total     int  `json:"total"`
	Completed int  `json:"completed"`
	Running   bool `json:"isRunning"`
}

// BatchResult is the final state of a batch.
type BatchResult struct {
	Total     int
	Completed int
	Cancelled bool
}

// Sink receives every record change, including the transient verifying state.
// Calls may come from several goroutines at once.
type Sink interface {
	RecordChanged(id string, rec Record)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(id string, rec Record)

func (f SinkFunc) RecordChanged(id string, rec Record) { f(id, rec) }

// Cache stores probe results by stream URL.
type Cache interface {
	LookupResult(ctx context.Context, streamURL string) (rec Record, checkedAt time.Time, ok bool, err error)
	StoreResult(ctx context.Context, streamURL string, rec Record, checkedAt time.Time) error
}

// Orchestrator runs probes and records their outcome. Prober and Records are
// required; the rest are optional.
type Orchestrator struct {
	Prober  Prober
	Records *Records
	Sink    Sink
	// Limiter paces probe starts across all workers.
	Limiter *rate.Limiter
	Metrics *Metrics
	// Cache is consulted only when CacheTTL > 0.
	Cache    Cache
	CacheTTL time.Duration
	Logger   *log.Logger

	// state orders batch start and end against Cancel.
	state     sync.Mutex
	running   atomic.Bool
	cancelled atomic.Bool
}

// New returns an orchestrator with a fresh record map.
func New(p Prober) *Orchestrator {
	return &Orchestrator{Prober: p, Records: NewRecords()}
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (o *Orchestrator) notify(id string, rec Record) {
	if o.Sink != nil {
		o.Sink.RecordChanged(id, rec)
	}
}

// VerifyOne marks id verifying, probes streamURL and records the outcome.
// The returned record is always ok or failed. When id's record was reset or
// replaced while the probe ran, the outcome is returned but not recorded.
func (o *Orchestrator) VerifyOne(ctx context.Context, id, streamURL string) Record {
	gen := o.Records.begin(id)
	o.notify(id, verifyingRecord)
	rec := settle(o.probe(ctx, streamURL))
	if !o.Records.commit(id, gen, rec) {
		o.logf("verify: dropped outdated result for %s (%s)", id, safeurl.RedactURL(streamURL))
		return rec
	}
	o.notify(id, rec)
	return rec
}

func (o *Orchestrator) probe(ctx context.Context, streamURL string) Record {
	useCache := o.Cache != nil && o.CacheTTL > 0
	if useCache {
		rec, at, ok, err := o.Cache.LookupResult(ctx, streamURL)
		if err != nil {
			o.logf("verify: cache lookup %s: %v", safeurl.RedactURL(streamURL), err)
		} else if ok && time.Since(at) < o.CacheTTL {
			o.Metrics.cacheHit(rec)
			return rec
		}
	}
	if o.Limiter != nil {
		if err := o.Limiter.Wait(ctx); err != nil {
			return failedRecord
		}
	}
	done := o.Metrics.probeStarted()
	rec, err := o.Prober.Probe(ctx, streamURL)
	if err != nil {
		rec = failedRecord
	}
	rec = settle(rec)
	done(rec)
	if useCache && ctx.Err() == nil {
		if err := o.Cache.StoreResult(ctx, streamURL, rec, time.Now()); err != nil {
			o.logf("verify: cache store %s: %v", safeurl.RedactURL(streamURL), err)
		}
	}
	return rec
}

// Cancel asks the running batch to stop. Probes already in flight finish;
// no new ones start. It has no effect when no batch is running.
func (o *Orchestrator) Cancel() {
	o.state.Lock()
	defer o.state.Unlock()
	if o.running.Load() {
		o.cancelled.Store(true)
	}
}

// Running reports whether a batch is in progress.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// VerifyBatch verifies items with exactly min(concurrency, len(items))
// workers pulling from a FIFO queue. Individual probe failures never stop the
// batch; only Cancel, ctx or an empty queue do. onProgress may be nil and is
// never called concurrently with itself.
func (o *Orchestrator) VerifyBatch(ctx context.Context, items []Item, concurrency int, onProgress func(Progress)) (BatchResult, error) {
	o.state.Lock()
	if o.running.Load() {
		o.state.Unlock()
		return BatchResult{}, ErrBatchRunning
	}
	o.running.Store(true)
	o.cancelled.Store(false)
	o.state.Unlock()
	defer func() {
		o.state.Lock()
		o.running.Store(false)
		o.cancelled.Store(false)
		o.state.Unlock()
	}()

	total := len(items)
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > total {
		concurrency = total
	}

	queue := make(chan Item, total)
	for _, it := range items {
		queue <- it
	}
	close(queue)

	var (
		mu        sync.Mutex
		completed int
	)
	report := func(running bool) {
		if onProgress != nil {
			onProgress(Progress{Total: total, Completed: completed, Running: running})
		}
	}

	o.logf("verify: batch start total=%d workers=%d", total, concurrency)
	started := time.Now()

	mu.Lock()
	report(total > 0)
	mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			for {
				if o.cancelled.Load() || gctx.Err() != nil {
					return nil
				}
				it, ok := <-queue
				if !ok {
					return nil
				}
				o.VerifyOne(gctx, it.ID, it.URL)
				mu.Lock()
				completed++
				report(true)
				mu.Unlock()
			}
		})
	}
	_ = g.Wait()

	res := BatchResult{Total: total, Completed: completed}
	res.Cancelled = completed < total && (o.cancelled.Load() || ctx.Err() != nil)
	if res.Cancelled {
		o.Metrics.batchCancelled()
		o.logf("verify: batch cancelled %d/%d after %s", res.Completed, res.Total, time.Since(started).Round(time.Millisecond))
	} else {
		o.logf("verify: batch done %d/%d in %s", res.Completed, res.Total, time.Since(started).Round(time.Millisecond))
	}

	mu.Lock()
	report(false)
	mu.Unlock()
	return res, nil
}
