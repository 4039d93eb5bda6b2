package session

import (
	"fmt"

	"github.com/plextuner/m3u-curator/internal/playlist"
)

const (
	NewChannelName = "New Channel"
	NewGroupTitle  = "New Group"
)

// Select adds ids to the selection.
func (s *Session) Select(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.selection[id] = struct{}{}
	}
}

// Deselect removes ids from the selection.
func (s *Session) Deselect(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.selection, id)
	}
}

func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = make(map[string]struct{})
}

// Selection returns the selected ids in main-list order, followed by selected
// candidate ids.
func (s *Session) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, list := range [][]playlist.Channel{s.main, s.candidates} {
		for _, c := range list {
			if _, ok := s.selection[c.ID]; ok {
				out = append(out, c.ID)
			}
		}
	}
	return out
}

// AddChannel appends a blank channel in group (NewGroupTitle when empty).
func (s *Session) AddChannel(group string) playlist.Channel {
	if group == "" {
		group = NewGroupTitle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot()
	ch := playlist.New(NewChannelName, "")
	ch.GroupTitle = group
	s.main = append(s.main, ch)
	playlist.Reindex(s.main)
	return s.main[len(s.main)-1]
}

// DeleteChannels removes ids from the main list and returns how many went.
func (s *Session) DeleteChannels(ids []string) int {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.containsAny(drop) {
		return 0
	}
	s.snapshot()
	n := s.removeWhere(func(c playlist.Channel) bool {
		_, ok := drop[c.ID]
		return ok
	})
	return n
}

func (s *Session) containsAny(ids map[string]struct{}) bool {
	for _, c := range s.main {
		if _, ok := ids[c.ID]; ok {
			return true
		}
	}
	return false
}

// removeWhere filters the main list in place, reindexes it and forgets the
// removed channels' records and selection. Callers hold mu.
func (s *Session) removeWhere(drop func(playlist.Channel) bool) int {
	kept := s.main[:0:0]
	removed := 0
	for _, c := range s.main {
		if drop(c) {
			removed++
			s.verifier.Records.Delete(c.ID)
			delete(s.selection, c.ID)
			continue
		}
		kept = append(kept, c)
	}
	playlist.Reindex(kept)
	s.main = kept
	return removed
}

// UpdateField sets one attribute of a main-list channel. A new URL
// invalidates the channel's verification record.
func (s *Session) UpdateField(id string, f playlist.Field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := playlist.IndexOf(s.main, id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	}
	if f.Get(s.main[i]) == value {
		return nil
	}
	s.snapshot()
	ch := s.main[i]
	f.Set(&ch, value)
	if f == playlist.FieldURL {
		s.verifier.Records.Reset(id)
		rec, _ := s.verifier.Records.Get(id)
		rec.Apply(&ch)
	}
	s.main[i] = ch
	return nil
}

// UpdateGroup moves every listed main-list channel into group.
func (s *Session) UpdateGroup(ids []string, group string) int {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.containsAny(want) {
		return 0
	}
	s.snapshot()
	n := 0
	for i := range s.main {
		if _, ok := want[s.main[i].ID]; ok {
			s.main[i].GroupTitle = group
			n++
		}
	}
	return n
}

// MoveTo places channel id at 1-based position order, clamped to the list.
// When id is part of a multi-channel selection the whole selection moves as a
// block, keeping its relative order, and the selection is cleared.
func (s *Session) MoveTo(id string, order int) error {
	if order <= 0 {
		return fmt.Errorf("session: invalid position %d", order)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := playlist.IndexOf(s.main, id)
	if cur < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	}
	s.snapshot()

	_, selected := s.selection[id]
	var moved, rest []playlist.Channel
	if selected && s.selectedInMain() > 1 {
		for _, c := range s.main {
			if _, ok := s.selection[c.ID]; ok {
				moved = append(moved, c)
			} else {
				rest = append(rest, c)
			}
		}
		s.selection = make(map[string]struct{})
	} else {
		moved = []playlist.Channel{s.main[cur]}
		rest = append(append(rest, s.main[:cur]...), s.main[cur+1:]...)
	}
	target := min(order-1, len(rest))
	out := make([]playlist.Channel, 0, len(s.main))
	out = append(out, rest[:target]...)
	out = append(out, moved...)
	out = append(out, rest[target:]...)
	playlist.Reindex(out)
	s.main = out
	return nil
}

func (s *Session) selectedInMain() int {
	n := 0
	for _, c := range s.main {
		if _, ok := s.selection[c.ID]; ok {
			n++
		}
	}
	return n
}

// Groups lists the main list's groups.
func (s *Session) Groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return playlist.Groups(s.main)
}

// Filter applies a group and name filter to the main list.
func (s *Session) Filter(group, query string) []playlist.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return playlist.Filter(s.main, group, query)
}

// FilterCandidates applies a group and name filter to the candidate list.
func (s *Session) FilterCandidates(group, query string) []playlist.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return playlist.Filter(s.candidates, group, query)
}
