// Package source opens playlists and guides from local files or http(s) URLs.
package source

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/plextuner/m3u-curator/internal/epglink"
	"github.com/plextuner/m3u-curator/internal/httpclient"
	"github.com/plextuner/m3u-curator/internal/playlist"
	"github.com/plextuner/m3u-curator/internal/safeurl"
)

const DefaultUserAgent = "m3u-curator/1.0"

// CheckTimeout bounds Check.
const CheckTimeout = 15 * time.Second

// ErrEmptyLocation is returned when no path or URL was given.
var ErrEmptyLocation = errors.New("source: empty location")

// Loader fetches sources. The zero value uses the shared client and
// httpclient.DefaultRetryPolicy.
type Loader struct {
	Client    *http.Client
	UserAgent string
	Retry     *httpclient.RetryPolicy
}

// Open returns a reader for a local path or an http(s) URL. Gzip payloads
// (for example guide.xml.gz) are decompressed.
func (l *Loader) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, ErrEmptyLocation
	}
	var rc io.ReadCloser
	if safeurl.IsHTTPOrHTTPS(location) {
		body, err := l.get(ctx, location)
		if err != nil {
			return nil, err
		}
		rc = body
	} else {
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("source: %w", err)
		}
		rc = f
	}
	return maybeGunzip(rc)
}

func (l *Loader) get(ctx context.Context, u string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	ua := l.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	policy := httpclient.DefaultRetryPolicy
	if l.Retry != nil {
		policy = *l.Retry
	}
	resp, err := httpclient.DoWithRetry(ctx, l.Client, req, policy)
	if err != nil {
		return nil, fmt.Errorf("source: fetch %s: %w", safeurl.RedactURL(u), err)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("source: fetch %s: HTTP %d", safeurl.RedactURL(u), resp.StatusCode)
	}
	return resp.Body, nil
}

type gzipBody struct {
	*gzip.Reader
	under io.Closer
}

func (g gzipBody) Close() error {
	g.Reader.Close()
	return g.under.Close()
}

type bufferedBody struct {
	*bufio.Reader
	io.Closer
}

func maybeGunzip(rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(rc)
	magic, _ := br.Peek(2)
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("source: gzip: %w", err)
		}
		return gzipBody{Reader: zr, under: rc}, nil
	}
	return bufferedBody{Reader: br, Closer: rc}, nil
}

// FetchPlaylist loads and parses an M3U playlist.
func (l *Loader) FetchPlaylist(ctx context.Context, location string) ([]playlist.Channel, error) {
	rc, err := l.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return playlist.ParseReader(rc)
}

// FetchEPG loads the channel list of an XMLTV guide.
func (l *Loader) FetchEPG(ctx context.Context, location string) ([]epglink.Channel, error) {
	rc, err := l.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return epglink.ParseXMLTV(rc)
}

// FetchIDList loads a plain list of guide ids, one per line.
func (l *Loader) FetchIDList(ctx context.Context, location, logoFolder string) ([]epglink.Channel, error) {
	rc, err := l.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return epglink.FromIDList(rc, logoFolder)
}

// Check reports whether location is reachable: the file exists, or the URL
// answers 200 to a GET whose body is discarded (some providers reject HEAD).
func Check(ctx context.Context, location string) error {
	location = strings.TrimSpace(location)
	if location == "" {
		return ErrEmptyLocation
	}
	if !safeurl.IsHTTPOrHTTPS(location) {
		if _, err := os.Stat(location); err != nil {
			return fmt.Errorf("source: %w", err)
		}
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	resp, err := httpclient.Default().Do(req)
	if err != nil {
		return fmt.Errorf("source: %s unreachable: %w", safeurl.RedactURL(location), err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("source: %s returned HTTP %d", safeurl.RedactURL(location), resp.StatusCode)
	}
	return nil
}

// FetchIPTVOrg loads an iptv-org channels.json list; an empty location means
// epglink.IPTVOrgChannelsURL.
func (l *Loader) FetchIPTVOrg(ctx context.Context, location string, f epglink.IPTVOrgFilter) ([]epglink.Channel, error) {
	if location == "" {
		location = epglink.IPTVOrgChannelsURL
	}
	rc, err := l.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return epglink.ParseIPTVOrg(rc, f)
}
