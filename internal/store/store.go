// Package store persists user settings and cached verification results in a
// local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/plextuner/m3u-curator/internal/normalize"
	"github.com/plextuner/m3u-curator/internal/playlist"
	"github.com/plextuner/m3u-curator/internal/verify"
)

// Setting keys.
const (
	KeyPrefixes         = "prefixes"
	KeySuffixes         = "suffixes"
	KeySelectedPrefixes = "selected_prefixes"
	KeySelectedSuffixes = "selected_suffixes"
	KeyPlaylistURL      = "playlist_url"
	KeyCandidatesURL    = "candidates_url"
	KeyEPGURL           = "epg_url"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS verification_cache (
	url        TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	quality    TEXT NOT NULL,
	resolution TEXT NOT NULL DEFAULT '',
	checked_at INTEGER NOT NULL
);
`

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store is a SQLite-backed settings and verification cache store.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// Get returns the raw value for key; ok is false when unset.
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.exec(ctx, `INSERT INTO settings(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}

// GetList decodes a JSON string list setting.
func (s *Store) GetList(ctx context.Context, key string) ([]string, bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return out, true, nil
}

func (s *Store) SetList(ctx context.Context, key string, list []string) error {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, string(b))
}

// Affixes returns the active prefixes and suffixes: the selected subsets when
// saved, else the full lists, else the defaults.
func (s *Store) Affixes(ctx context.Context) (normalize.Affixes, error) {
	a := normalize.Default()
	for _, f := range []struct {
		dst       *[]string
		all, used string
	}{
		{&a.Prefixes, KeyPrefixes, KeySelectedPrefixes},
		{&a.Suffixes, KeySuffixes, KeySelectedSuffixes},
	} {
		if list, ok, err := s.GetList(ctx, f.used); err != nil {
			return normalize.Affixes{}, err
		} else if ok {
			*f.dst = list
			continue
		}
		if list, ok, err := s.GetList(ctx, f.all); err != nil {
			return normalize.Affixes{}, err
		} else if ok {
			*f.dst = list
		}
	}
	return a, nil
}

// SaveAffixes stores a as both the full and the selected lists.
func (s *Store) SaveAffixes(ctx context.Context, a normalize.Affixes) error {
	for key, list := range map[string][]string{
		KeyPrefixes:         a.Prefixes,
		KeySuffixes:         a.Suffixes,
		KeySelectedPrefixes: a.Prefixes,
		KeySelectedSuffixes: a.Suffixes,
	} {
		if err := s.SetList(ctx, key, list); err != nil {
			return err
		}
	}
	return nil
}

// LookupResult implements verify.Cache.
func (s *Store) LookupResult(ctx context.Context, streamURL string) (verify.Record, time.Time, bool, error) {
	var (
		status, quality, res string
		checked              int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, quality, resolution, checked_at FROM verification_cache WHERE url = ?`, streamURL).
		Scan(&status, &quality, &res, &checked)
	if errors.Is(err, sql.ErrNoRows) {
		return verify.Record{}, time.Time{}, false, nil
	}
	if err != nil {
		return verify.Record{}, time.Time{}, false, fmt.Errorf("store: lookup result: %w", err)
	}
	rec := verify.Record{Status: playlist.Status(status), Quality: playlist.Quality(quality), Resolution: res}
	return rec, time.Unix(checked, 0), true, nil
}

// StoreResult implements verify.Cache.
func (s *Store) StoreResult(ctx context.Context, streamURL string, rec verify.Record, checkedAt time.Time) error {
	err := s.exec(ctx, `INSERT INTO verification_cache(url, status, quality, resolution, checked_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET status = excluded.status, quality = excluded.quality,
			resolution = excluded.resolution, checked_at = excluded.checked_at`,
		streamURL, string(rec.Status), string(rec.Quality), rec.Resolution, checkedAt.Unix())
	if err != nil {
		return fmt.Errorf("store: save result: %w", err)
	}
	return nil
}

// PruneResults drops cache rows checked before cutoff.
func (s *Store) PruneResults(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM verification_cache WHERE checked_at < ?`, cutoff.Unix())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("store: prune results: %w", err)
	}
	return n, nil
}

// Scoped returns a verify.Cache view whose rows are keyed by scope as well as
// URL, so results from different probe modes do not answer for each other.
func (s *Store) Scoped(scope string) verify.Cache {
	return scopedCache{s: s, prefix: scope + "|"}
}

type scopedCache struct {
	s      *Store
	prefix string
}

func (c scopedCache) LookupResult(ctx context.Context, streamURL string) (verify.Record, time.Time, bool, error) {
	return c.s.LookupResult(ctx, c.prefix+streamURL)
}

func (c scopedCache) StoreResult(ctx context.Context, streamURL string, rec verify.Record, at time.Time) error {
	return c.s.StoreResult(ctx, c.prefix+streamURL, rec, at)
}
