package verify

import (
	"sync"

	"github.com/plextuner/m3u-curator/internal/playlist"
)

// Record is the verification outcome for one channel.
type Record struct {
	Status     playlist.Status  `json:"status"`
	Quality    playlist.Quality `json:"quality"`
	Resolution string           `json:"resolution,omitempty"`
}

var (
	pendingRecord   = Record{Status: playlist.StatusPending, Quality: playlist.QualityUnknown}
	verifyingRecord = Record{Status: playlist.StatusVerifying, Quality: playlist.QualityUnknown}
	failedRecord    = Record{Status: playlist.StatusFailed, Quality: playlist.QualityUnknown}
)

// Failed is the record for an unreachable or invalid stream.
func Failed() Record { return failedRecord }

// OK is a live stream record.
func OK(q playlist.Quality, resolution string) Record {
	if q == "" {
		q = playlist.QualityUnknown
	}
	return Record{Status: playlist.StatusOK, Quality: q, Resolution: resolution}
}

// settle folds anything that is not ok into failed/unknown.
func settle(r Record) Record {
	if r.Status != playlist.StatusOK {
		return failedRecord
	}
	if r.Quality == "" {
		r.Quality = playlist.QualityUnknown
	}
	return r
}

// Apply mirrors r onto c.
func (r Record) Apply(c *playlist.Channel) {
	c.Status = r.Status
	c.Quality = r.Quality
	c.Resolution = r.Resolution
}

// Records maps channel ID to its latest Record. Safe for concurrent use.
//
// Every write stamps the id with a new generation. A probe commits its result
// only if the generation it started under is still current, so a reset, an
// explicit Set or a delete made while the probe was in flight wins.
type Records struct {
	mu  sync.RWMutex
	m   map[string]Record
	gen map[string]uint64
	seq uint64
}

func NewRecords() *Records {
	return &Records{m: make(map[string]Record), gen: make(map[string]uint64)}
}

// Get returns the record for id. Unknown ids report pending.
func (r *Records) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.m[id]
	if !ok {
		return pendingRecord, false
	}
	return rec, true
}

// stamp gives id a fresh generation. Callers hold mu.
func (r *Records) stamp(id string) uint64 {
	if r.gen == nil {
		r.gen = make(map[string]uint64)
	}
	r.seq++
	r.gen[id] = r.seq
	return r.seq
}

func (r *Records) Set(id string, rec Record) {
	r.mu.Lock()
	r.m[id] = rec
	r.stamp(id)
	r.mu.Unlock()
}

// Reset puts id back to pending.
func (r *Records) Reset(id string) {
	r.Set(id, pendingRecord)
}

func (r *Records) Delete(id string) {
	r.mu.Lock()
	delete(r.m, id)
	delete(r.gen, id)
	r.mu.Unlock()
}

// begin marks id verifying and returns the generation commit must present.
func (r *Records) begin(id string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[id] = verifyingRecord
	return r.stamp(id)
}

// commit stores rec unless id was written or deleted since begin returned gen.
func (r *Records) commit(id string, gen uint64, rec Record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.gen[id]; !ok || cur != gen {
		return false
	}
	r.m[id] = rec
	return true
}

// Clear drops every record.
func (r *Records) Clear() {
	r.mu.Lock()
	r.m = make(map[string]Record)
	r.gen = make(map[string]uint64)
	r.mu.Unlock()
}

// Snapshot returns a copy of all records.
func (r *Records) Snapshot() map[string]Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Record, len(r.m))
	for k, v := range r.m {
		out[k] = v
	}
	return out
}

// IDsWithStatus lists ids whose record has status s, in no particular order.
func (r *Records) IDsWithStatus(s playlist.Status) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, rec := range r.m {
		if rec.Status == s {
			out = append(out, id)
		}
	}
	return out
}
