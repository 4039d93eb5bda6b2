package session

import (
	"github.com/plextuner/m3u-curator/internal/epglink"
	"github.com/plextuner/m3u-curator/internal/playlist"
	"github.com/plextuner/m3u-curator/internal/search"
)

// SearchCandidates ranks the candidate list against query.
func (s *Session) SearchCandidates(query string, minSimilarity float64) []search.Match[playlist.Channel] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return search.Search(s.engine, s.candidates, query, minSimilarity)
}

// SearchMain ranks the main list against query.
func (s *Session) SearchMain(query string, minSimilarity float64) []search.Match[playlist.Channel] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return search.Search(s.engine, s.main, query, minSimilarity)
}

// SearchEPG ranks the guide for free-text browsing.
func (s *Session) SearchEPG(query string) []search.Match[epglink.Channel] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return search.Search(s.engine, s.epg, query, s.epgBrowseMin)
}

// SuggestEPG proposes guide entries for a channel name.
func (s *Session) SuggestEPG(channelName string) []search.Match[epglink.Channel] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return search.Search(s.engine, s.epg, channelName, s.epgSuggestMin)
}

// Suggest completes a partial query from candidate channel names.
func (s *Session) Suggest(partial string, max int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return search.Suggest(s.engine, s.candidates, partial, max)
}
