package verify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plextuner/m3u-curator/internal/playlist"
)

type sinkLog struct {
	mu   sync.Mutex
	seen map[string][]playlist.Status
}

func (s *sinkLog) RecordChanged(id string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = make(map[string][]playlist.Status)
	}
	s.seen[id] = append(s.seen[id], rec.Status)
}

func items(n int) []Item {
	out := make([]Item, n)
	for i := range out {
		out[i] = Item{ID: fmt.Sprintf("c%d", i), URL: fmt.Sprintf("http://example.test/%d.ts", i)}
	}
	return out
}

func TestVerifyOne_transitions(t *testing.T) {
	o := New(ProbeFunc(func(ctx context.Context, u string) (Record, error) {
		return OK(playlist.QualityHD, "1280x720"), nil
	}))
	sink := &sinkLog{}
	o.Sink = sink
	rec := o.VerifyOne(context.Background(), "a", "http://example.test/a")
	if rec.Status != playlist.StatusOK || rec.Quality != playlist.QualityHD {
		t.Fatalf("rec=%+v", rec)
	}
	got := sink.seen["a"]
	if len(got) != 2 || got[0] != playlist.StatusVerifying || got[1] != playlist.StatusOK {
		t.Fatalf("sink saw %v", got)
	}
	if r, ok := o.Records.Get("a"); !ok || r != rec {
		t.Fatalf("Records.Get=%+v %v", r, ok)
	}
}

func TestVerifyOne_resetDuringProbeWins(t *testing.T) {
	var o *Orchestrator
	o = New(ProbeFunc(func(context.Context, string) (Record, error) {
		o.Records.Reset("a")
		return Failed(), nil
	}))
	sink := &sinkLog{}
	o.Sink = sink
	if rec := o.VerifyOne(context.Background(), "a", "http://example.test/a"); rec.Status != playlist.StatusFailed {
		t.Fatalf("returned %+v", rec)
	}
	if r, _ := o.Records.Get("a"); r.Status != playlist.StatusPending {
		t.Fatalf("outdated result recorded: %+v", r)
	}
	if got := sink.seen["a"]; len(got) != 1 {
		t.Fatalf("sink saw %v, want only verifying", got)
	}

	o.Prober = ProbeFunc(func(context.Context, string) (Record, error) {
		o.Records.Delete("a")
		return OK(playlist.QualityHD, ""), nil
	})
	o.VerifyOne(context.Background(), "a", "http://example.test/a")
	if _, ok := o.Records.Get("a"); ok {
		t.Fatal("deleted record resurrected")
	}
}

func TestVerifyOne_errorsFoldToFailed(t *testing.T) {
	probes := []ProbeFunc{
		func(context.Context, string) (Record, error) { return Record{}, errors.New("dial tcp: refused") },
		func(context.Context, string) (Record, error) {
			return OK(playlist.QualityHD, ""), errors.New("late error")
		},
		func(context.Context, string) (Record, error) { return Record{Status: playlist.StatusVerifying}, nil },
	}
	for i, p := range probes {
		o := New(p)
		rec := o.VerifyOne(context.Background(), "x", "http://example.test/x")
		if rec != Failed() {
			t.Errorf("probe %d: rec=%+v want failed/unknown", i, rec)
		}
	}
}

func TestVerifyBatch_completes(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	o := New(ProbeFunc(func(ctx context.Context, u string) (Record, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		if u == "http://example.test/7.ts" {
			return Record{}, errors.New("timeout")
		}
		return OK(playlist.QualitySD, ""), nil
	}))
	work := items(40)
	var progress []Progress
	res, err := o.VerifyBatch(context.Background(), work, 4, func(p Progress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 40 || res.Completed != 40 || res.Cancelled {
		t.Fatalf("res=%+v", res)
	}
	if m := maxInFlight.Load(); m > 4 {
		t.Fatalf("max in flight=%d want <= 4", m)
	}
	for _, it := range work {
		rec, ok := o.Records.Get(it.ID)
		if !ok || (rec.Status != playlist.StatusOK && rec.Status != playlist.StatusFailed) {
			t.Fatalf("%s left in %+v", it.ID, rec)
		}
	}
	if rec, _ := o.Records.Get("c7"); rec.Status != playlist.StatusFailed {
		t.Fatalf("c7=%+v want failed", rec)
	}
	last := -1
	for _, p := range progress {
		if p.Completed < last {
			t.Fatalf("progress went backwards: %v", progress)
		}
		last = p.Completed
	}
	if final := progress[len(progress)-1]; final.Running || final.Completed != 40 {
		t.Fatalf("final progress=%+v", final)
	}
	if o.Running() {
		t.Fatal("still running after return")
	}
}

func TestVerifyBatch_workerBounds(t *testing.T) {
	o := New(ProbeFunc(func(context.Context, string) (Record, error) { return OK("", ""), nil }))
	for _, k := range []int{-1, 0, 100} {
		res, err := o.VerifyBatch(context.Background(), items(3), k, nil)
		if err != nil || res.Completed != 3 {
			t.Fatalf("k=%d: res=%+v err=%v", k, res, err)
		}
	}
	res, err := o.VerifyBatch(context.Background(), nil, 4, nil)
	if err != nil || res != (BatchResult{}) {
		t.Fatalf("empty batch: res=%+v err=%v", res, err)
	}
}

func TestVerifyBatch_cancelStopsNewProbes(t *testing.T) {
	const k = 2
	var o *Orchestrator
	var started atomic.Int32
	var startedAtCancel int32
	o = New(ProbeFunc(func(ctx context.Context, u string) (Record, error) {
		n := started.Add(1)
		if n == 3 {
			o.Cancel()
			startedAtCancel = n
		}
		time.Sleep(time.Millisecond)
		return OK("", ""), nil
	}))
	res, err := o.VerifyBatch(context.Background(), items(50), k, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cancelled {
		t.Fatalf("res=%+v want cancelled", res)
	}
	total := started.Load()
	if total > startedAtCancel+k-1 {
		t.Fatalf("started %d probes, at most %d allowed after cancel", total, startedAtCancel+k-1)
	}
	if int32(res.Completed) != total || res.Completed < 3 || res.Completed > 50 {
		t.Fatalf("completed=%d started=%d", res.Completed, total)
	}
	// The flag does not leak into the next batch.
	res, _ = o.VerifyBatch(context.Background(), items(2), k, nil)
	if res.Cancelled || res.Completed != 2 {
		t.Fatalf("next batch res=%+v", res)
	}
}

func TestVerifyBatch_contextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var n atomic.Int32
	o := New(ProbeFunc(func(context.Context, string) (Record, error) {
		if n.Add(1) == 1 {
			cancel()
		}
		return OK("", ""), nil
	}))
	res, err := o.VerifyBatch(ctx, items(20), 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cancelled || res.Completed != 1 {
		t.Fatalf("res=%+v", res)
	}
}

func TestVerifyBatch_oneAtATime(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	o := New(ProbeFunc(func(context.Context, string) (Record, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return OK("", ""), nil
	}))
	done := make(chan BatchResult)
	go func() {
		res, _ := o.VerifyBatch(context.Background(), items(2), 1, nil)
		done <- res
	}()
	<-entered
	if _, err := o.VerifyBatch(context.Background(), items(1), 1, nil); !errors.Is(err, ErrBatchRunning) {
		t.Fatalf("err=%v want ErrBatchRunning", err)
	}
	close(release)
	if res := <-done; res.Completed != 2 {
		t.Fatalf("res=%+v", res)
	}
}

func TestCancel_idleIsNoop(t *testing.T) {
	o := New(ProbeFunc(func(context.Context, string) (Record, error) { return OK("", ""), nil }))
	o.Cancel()
	res, _ := o.VerifyBatch(context.Background(), items(3), 2, nil)
	if res.Cancelled || res.Completed != 3 {
		t.Fatalf("res=%+v", res)
	}
}

type memCache struct {
	mu  sync.Mutex
	m   map[string]Record
	at  map[string]time.Time
	put int
}

func (c *memCache) LookupResult(_ context.Context, u string) (Record, time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.m[u]
	return r, c.at[u], ok, nil
}

func (c *memCache) StoreResult(_ context.Context, u string, r Record, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[u] = r
	c.at[u] = at
	c.put++
	return nil
}

func TestVerifyOne_cache(t *testing.T) {
	var calls atomic.Int32
	o := New(ProbeFunc(func(context.Context, string) (Record, error) {
		calls.Add(1)
		return OK(playlist.QualityFHD, "1920x1080"), nil
	}))
	c := &memCache{m: map[string]Record{}, at: map[string]time.Time{}}
	o.Cache = c
	o.CacheTTL = time.Hour

	o.VerifyOne(context.Background(), "a", "http://example.test/a")
	rec := o.VerifyOne(context.Background(), "b", "http://example.test/a")
	if calls.Load() != 1 || c.put != 1 {
		t.Fatalf("calls=%d puts=%d want 1/1", calls.Load(), c.put)
	}
	if rec.Quality != playlist.QualityFHD {
		t.Fatalf("cached rec=%+v", rec)
	}

	c.at["http://example.test/a"] = time.Now().Add(-2 * time.Hour)
	o.VerifyOne(context.Background(), "a", "http://example.test/a")
	if calls.Load() != 2 {
		t.Fatalf("stale entry not reprobed: calls=%d", calls.Load())
	}

	o.CacheTTL = 0
	o.VerifyOne(context.Background(), "a", "http://example.test/a")
	if calls.Load() != 3 {
		t.Fatalf("cache used with zero TTL: calls=%d", calls.Load())
	}
}

func TestMetrics_registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := New(ProbeFunc(func(context.Context, string) (Record, error) { return Failed(), nil }))
	o.Metrics = NewMetrics(reg)
	o.VerifyOne(context.Background(), "a", "http://example.test/a")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var failed float64
	for _, mf := range mfs {
		if mf.GetName() != "m3u_curator_verify_probes_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status" && l.GetValue() == "failed" {
					failed = m.GetCounter().GetValue()
				}
			}
		}
	}
	if failed != 1 {
		t.Fatalf("probes_total{status=failed}=%v want 1", failed)
	}
}
