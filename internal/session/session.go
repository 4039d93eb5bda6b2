// Package session holds one editing session: the main playlist, a candidate
// (repair) playlist, a guide source, verification records and undo history.
// All mutations are serialized by one mutex and replace channels by id, so
// verification results landing mid-edit never clobber unrelated fields.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/plextuner/m3u-curator/internal/epglink"
	"github.com/plextuner/m3u-curator/internal/normalize"
	"github.com/plextuner/m3u-curator/internal/playlist"
	"github.com/plextuner/m3u-curator/internal/search"
	"github.com/plextuner/m3u-curator/internal/verify"
)

var ErrUnknownChannel = errors.New("session: unknown channel")

// DefaultHistoryLimit caps the undo and redo stacks.
const DefaultHistoryLimit = 50

// Options configure New. Zero values get defaults.
type Options struct {
	Verifier     *verify.Orchestrator
	Settings     Settings
	HistoryLimit int
	Logger       *log.Logger

	// Guide search thresholds; zero means search.MinSimilarityEPGBrowse and
	// search.MinSimilarityEPGSuggest.
	EPGBrowseMin  float64
	EPGSuggestMin float64
}

type Session struct {
	mu         sync.Mutex
	main       []playlist.Channel
	candidates []playlist.Channel
	epg        []epglink.Channel
	selection  map[string]struct{}
	undo       [][]playlist.Channel
	redo       [][]playlist.Channel

	historyLimit  int
	epgBrowseMin  float64
	epgSuggestMin float64
	settings      Settings
	engine        *search.Engine
	verifier      *verify.Orchestrator
	logger        *log.Logger
}

// New returns an empty session. The verifier's Sink is pointed at the session
// so results are mirrored into every list holding the channel.
func New(opts Options) *Session {
	s := &Session{
		selection:     make(map[string]struct{}),
		historyLimit:  opts.HistoryLimit,
		epgBrowseMin:  opts.EPGBrowseMin,
		epgSuggestMin: opts.EPGSuggestMin,
		settings:      opts.Settings,
		verifier:      opts.Verifier,
		logger:        opts.Logger,
	}
	if s.historyLimit <= 0 {
		s.historyLimit = DefaultHistoryLimit
	}
	if s.epgBrowseMin <= 0 {
		s.epgBrowseMin = search.MinSimilarityEPGBrowse
	}
	if s.epgSuggestMin <= 0 {
		s.epgSuggestMin = search.MinSimilarityEPGSuggest
	}
	if s.settings == nil {
		s.settings = Static(normalize.Default())
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.verifier == nil {
		s.verifier = verify.New(verify.NewHTTPProber(verify.DefaultProbeTimeout))
	}
	if s.verifier.Records == nil {
		s.verifier.Records = verify.NewRecords()
	}
	s.verifier.Sink = s
	s.engine = search.New(normalize.Default())
	if a, err := s.settings.Affixes(context.Background()); err == nil {
		s.engine.Affixes = a
	}
	return s
}

// Reload re-reads the affix configuration from Settings.
func (s *Session) Reload(ctx context.Context) error {
	a, err := s.settings.Affixes(ctx)
	if err != nil {
		return fmt.Errorf("session: load settings: %w", err)
	}
	s.mu.Lock()
	s.engine.Affixes = a
	s.mu.Unlock()
	return nil
}

// Affixes returns the affix configuration in use.
func (s *Session) Affixes() normalize.Affixes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Affixes
}

// Verifier exposes the orchestrator, e.g. for Cancel from a signal handler.
func (s *Session) Verifier() *verify.Orchestrator { return s.verifier }

// LoadMain replaces the main list. History, selection and the records of the
// previous main list are dropped.
func (s *Session) LoadMain(r io.Reader) error {
	list, err := playlist.ParseReader(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.main {
		s.verifier.Records.Delete(c.ID)
	}
	s.main = list
	s.undo, s.redo = nil, nil
	s.selection = make(map[string]struct{})
	s.logger.Printf("session: loaded %d channels (%d groups)", len(list), len(playlist.Groups(list)))
	return nil
}

// LoadCandidates replaces the candidate list used for repair and curation.
func (s *Session) LoadCandidates(r io.Reader) error {
	list, err := playlist.ParseReader(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.candidates {
		s.verifier.Records.Delete(c.ID)
	}
	s.candidates = list
	s.logger.Printf("session: loaded %d candidate channels", len(list))
	return nil
}

// LoadEPG replaces the guide source.
func (s *Session) LoadEPG(chs []epglink.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epg = append([]epglink.Channel(nil), chs...)
	s.logger.Printf("session: loaded %d EPG channels", len(chs))
}

func (s *Session) Main() []playlist.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return playlist.Clone(s.main)
}

func (s *Session) Candidates() []playlist.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return playlist.Clone(s.candidates)
}

func (s *Session) EPG() []epglink.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]epglink.Channel(nil), s.epg...)
}

// Channel looks id up in the main list, then the candidate list.
func (s *Session) Channel(id string) (playlist.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := playlist.IndexOf(s.main, id); i >= 0 {
		return s.main[i], true
	}
	if i := playlist.IndexOf(s.candidates, id); i >= 0 {
		return s.candidates[i], true
	}
	return playlist.Channel{}, false
}

// Record returns the verification record for id.
func (s *Session) Record(id string) verify.Record {
	rec, _ := s.verifier.Records.Get(id)
	return rec
}

// RecordChanged mirrors id's live record into every list containing it. The
// live record is read under mu rather than trusting rec, so a notification
// overtaken by an edit cannot resurrect an outdated status.
func (s *Session) RecordChanged(id string, _ verify.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, _ := s.verifier.Records.Get(id)
	if i := playlist.IndexOf(s.main, id); i >= 0 {
		rec.Apply(&s.main[i])
	}
	if i := playlist.IndexOf(s.candidates, id); i >= 0 {
		rec.Apply(&s.candidates[i])
	}
}

// Export serializes the main list.
func (s *Session) Export() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return playlist.Serialize(s.main)
}

// WriteTo writes the main list as M3U.
func (s *Session) WriteTo(w io.Writer) error {
	s.mu.Lock()
	list := playlist.Clone(s.main)
	s.mu.Unlock()
	return playlist.Write(w, playlist.Header{}, list)
}

// snapshot pushes the current main list onto the undo stack and clears redo.
// Callers hold mu and call it before mutating.
func (s *Session) snapshot() {
	s.undo = pushCapped(s.undo, playlist.Clone(s.main), s.historyLimit)
	s.redo = nil
}

func pushCapped(stack [][]playlist.Channel, list []playlist.Channel, limit int) [][]playlist.Channel {
	stack = append(stack, list)
	if len(stack) > limit {
		stack = append(stack[:0:0], stack[len(stack)-limit:]...)
	}
	return stack
}

// Undo restores the main list as it was before the last mutation.
func (s *Session) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.undo) == 0 {
		return false
	}
	prev := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]
	s.redo = pushCapped(s.redo, s.main, s.historyLimit)
	s.main = prev
	s.syncRecords()
	return true
}

// Redo reapplies the last undone mutation.
func (s *Session) Redo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.redo) == 0 {
		return false
	}
	next := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	s.undo = pushCapped(s.undo, s.main, s.historyLimit)
	s.main = next
	s.syncRecords()
	return true
}

func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undo) > 0
}

func (s *Session) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.redo) > 0
}

// syncRecords overwrites restored channel status with the live records, which
// stay authoritative across undo.
func (s *Session) syncRecords() {
	for i := range s.main {
		rec, _ := s.verifier.Records.Get(s.main[i].ID)
		rec.Apply(&s.main[i])
	}
}
