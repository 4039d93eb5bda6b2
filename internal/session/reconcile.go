package session

import (
	"context"
	"fmt"

	"github.com/plextuner/m3u-curator/internal/epglink"
	"github.com/plextuner/m3u-curator/internal/playlist"
	"github.com/plextuner/m3u-curator/internal/verify"
)

// NoGroup labels channels without a group-title in FailedByGroup.
const NoGroup = "No Group"

// AssignMode selects which identifier a manual guide assignment writes.
type AssignMode string

const (
	AssignTVGID   AssignMode = "tvg-id"
	AssignTVGName AssignMode = "tvg-name"
)

func ParseAssignMode(s string) (AssignMode, error) {
	switch AssignMode(s) {
	case "", AssignTVGID:
		return AssignTVGID, nil
	case AssignTVGName:
		return AssignTVGName, nil
	}
	return "", fmt.Errorf("session: unknown assign mode %q", s)
}

// AssignFromMatch copies exactly the fields in set from src onto the main-list
// channel destID. It does nothing (false, nil) when destID is empty or set is
// empty. When the URL is copied the destination's record is reset and the new
// URL verified before returning.
func (s *Session) AssignFromMatch(ctx context.Context, destID string, src playlist.Channel, set playlist.FieldSet) (bool, error) {
	if destID == "" || set.Empty() {
		return false, nil
	}
	s.mu.Lock()
	i := playlist.IndexOf(s.main, destID)
	if i < 0 {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownChannel, destID)
	}
	s.snapshot()
	ch := s.main[i]
	playlist.CopyFields(&ch, src, set)
	reverify := set.Has(playlist.FieldURL)
	if reverify {
		s.verifier.Records.Reset(destID)
		rec, _ := s.verifier.Records.Get(destID)
		rec.Apply(&ch)
	}
	s.main[i] = ch
	newURL := ch.URL
	s.mu.Unlock()

	if reverify {
		s.verifier.VerifyOne(ctx, destID, newURL)
	}
	return true, nil
}

// AssignEPG links a main-list channel to guide entry epgID by tvg-id or
// tvg-name, optionally taking the guide logo.
func (s *Session) AssignEPG(destID, epgID string, mode AssignMode, copyLogo bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := playlist.IndexOf(s.main, destID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, destID)
	}
	src, ok := s.epgByID(epgID)
	if !ok {
		return fmt.Errorf("session: unknown EPG channel %q", epgID)
	}
	s.snapshot()
	ch := &s.main[i]
	switch mode {
	case AssignTVGName:
		ch.TVGName = src.Name
	default:
		ch.TVGID = src.ID
	}
	if copyLogo {
		ch.TVGLogo = src.Logo
	}
	return nil
}

func (s *Session) epgByID(id string) (epglink.Channel, bool) {
	for _, c := range s.epg {
		if c.ID == id {
			return c, true
		}
	}
	return epglink.Channel{}, false
}

// AutoAssignEPG links the unassigned channels among visibleIDs (the whole main
// list when nil) to the loaded guide. It returns epglink.ErrNoSource without
// touching anything when no guide is loaded, and takes an undo snapshot only
// when at least one channel was eligible.
func (s *Session) AutoAssignEPG(visibleIDs []string) (epglink.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.epg) == 0 {
		return epglink.Report{}, epglink.ErrNoSource
	}
	scope := s.main
	if visibleIDs != nil {
		visible := make(map[string]struct{}, len(visibleIDs))
		for _, id := range visibleIDs {
			visible[id] = struct{}{}
		}
		scope = nil
		for _, c := range s.main {
			if _, ok := visible[c.ID]; ok {
				scope = append(scope, c)
			}
		}
	}
	rep, err := epglink.Match(scope, s.epg, s.engine.Affixes)
	if err != nil {
		return rep, err
	}
	if rep.Eligible > 0 {
		s.snapshot()
		epglink.Apply(s.main, rep)
	}
	s.logger.Printf("session: %s", rep.SummaryString())
	return rep, nil
}

// AddFromCandidates appends copies of the listed candidate channels to the
// main list with fresh ids. A non-empty group overrides their group-title.
func (s *Session) AddFromCandidates(ids []string, group string) int {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var add []playlist.Channel
	for _, c := range s.candidates {
		if _, ok := want[c.ID]; !ok {
			continue
		}
		c.ID = playlist.NewID()
		c.Status, c.Quality, c.Resolution = playlist.StatusPending, playlist.QualityUnknown, ""
		if group != "" {
			c.GroupTitle = group
		}
		add = append(add, c)
	}
	for id := range want {
		delete(s.selection, id)
	}
	if len(add) == 0 {
		return 0
	}
	s.snapshot()
	s.main = append(s.main, add...)
	playlist.Reindex(s.main)
	return len(add)
}

// AddFromEPG appends one placeholder channel per listed guide entry, in guide
// order, under playlist.EPGGroup with playlist.UnavailableURL.
func (s *Session) AddFromEPG(epgIDs []string) int {
	want := make(map[string]struct{}, len(epgIDs))
	for _, id := range epgIDs {
		want[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var add []playlist.Channel
	for _, e := range s.epg {
		if _, ok := want[e.ID]; !ok {
			continue
		}
		ch := playlist.New(e.Name, playlist.UnavailableURL)
		ch.TVGID = e.ID
		ch.TVGName = e.Name
		ch.TVGLogo = e.Logo
		ch.GroupTitle = playlist.EPGGroup
		add = append(add, ch)
	}
	if len(add) == 0 {
		return 0
	}
	s.snapshot()
	s.main = append(s.main, add...)
	playlist.Reindex(s.main)
	return len(add)
}

// ClearFailedURLs replaces the URL of every failed main-list channel with
// playlist.ClearedURL and resets its record to pending.
func (s *Session) ClearFailedURLs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var failed []int
	for i, c := range s.main {
		if rec, _ := s.verifier.Records.Get(c.ID); rec.Status == playlist.StatusFailed {
			failed = append(failed, i)
		}
	}
	if len(failed) == 0 {
		return 0
	}
	s.snapshot()
	for _, i := range failed {
		ch := &s.main[i]
		ch.URL = playlist.ClearedURL
		s.verifier.Records.Reset(ch.ID)
		rec, _ := s.verifier.Records.Get(ch.ID)
		rec.Apply(ch)
	}
	s.logger.Printf("session: cleared %d failed URLs", len(failed))
	return len(failed)
}

// FailedByGroup counts failed main-list channels per group-title.
func (s *Session) FailedByGroup() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int)
	for _, c := range s.main {
		if rec, _ := s.verifier.Records.Get(c.ID); rec.Status != playlist.StatusFailed {
			continue
		}
		g := c.GroupTitle
		if g == "" {
			g = NoGroup
		}
		out[g]++
	}
	return out
}

// DeleteFailed removes every failed channel from the main list.
func (s *Session) DeleteFailed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	isFailed := func(c playlist.Channel) bool {
		rec, _ := s.verifier.Records.Get(c.ID)
		return rec.Status == playlist.StatusFailed
	}
	hasFailed := false
	for _, c := range s.main {
		if isFailed(c) {
			hasFailed = true
			break
		}
	}
	if !hasFailed {
		return 0
	}
	s.snapshot()
	return s.removeWhere(isFailed)
}

// Repairable lists the main-list channels that need a replacement stream:
// failed ones and those whose URL was cleared.
func (s *Session) Repairable() []playlist.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []playlist.Channel
	for _, c := range s.main {
		rec, _ := s.verifier.Records.Get(c.ID)
		if rec.Status == playlist.StatusFailed || c.URL == playlist.ClearedURL {
			out = append(out, c)
		}
	}
	return out
}

// Verify checks the listed channels (main or candidate) as one batch. In
// quality mode the work is capped at max and the excess deselected; the
// dropped ids are returned.
func (s *Session) Verify(ctx context.Context, ids []string, mode verify.Mode, concurrency, max int, onProgress func(verify.Progress)) (verify.BatchResult, []string, error) {
	s.mu.Lock()
	var work []verify.Item
	for _, id := range ids {
		if i := playlist.IndexOf(s.main, id); i >= 0 {
			work = append(work, verify.Item{ID: id, URL: s.main[i].URL})
		} else if i := playlist.IndexOf(s.candidates, id); i >= 0 {
			work = append(work, verify.Item{ID: id, URL: s.candidates[i].URL})
		}
	}
	kept, dropped, err := verify.Plan(mode, work, max, false)
	if err != nil {
		s.mu.Unlock()
		return verify.BatchResult{}, nil, err
	}
	droppedIDs := make([]string, 0, len(dropped))
	for _, it := range dropped {
		delete(s.selection, it.ID)
		droppedIDs = append(droppedIDs, it.ID)
	}
	s.mu.Unlock()

	if len(dropped) > 0 {
		s.logger.Printf("session: %s check limited to %d channels, %d deselected", mode, len(kept), len(dropped))
	}
	res, err := s.verifier.VerifyBatch(ctx, kept, concurrency, onProgress)
	return res, droppedIDs, err
}

// VerifyOne verifies a single channel from either list.
func (s *Session) VerifyOne(ctx context.Context, id string) (verify.Record, error) {
	ch, ok := s.Channel(id)
	if !ok {
		return verify.Record{}, fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	}
	return s.verifier.VerifyOne(ctx, id, ch.URL), nil
}

// Cancel stops the running batch after in-flight probes finish.
func (s *Session) Cancel() { s.verifier.Cancel() }
