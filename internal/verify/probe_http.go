package verify

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/plextuner/m3u-curator/internal/httpclient"
	"github.com/plextuner/m3u-curator/internal/playlist"
	"github.com/plextuner/m3u-curator/internal/safeurl"
)

// Prober checks one stream URL. Errors are folded into a failed record by
// the Orchestrator.
type Prober interface {
	Probe(ctx context.Context, streamURL string) (Record, error)
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context, streamURL string) (Record, error)

func (f ProbeFunc) Probe(ctx context.Context, streamURL string) (Record, error) {
	return f(ctx, streamURL)
}

const (
	DefaultProbeTimeout = 10 * time.Second
	probeUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	maxPlaylistBytes    = 256 << 10
	sampleRange         = "bytes=0-65535"
)

// HTTPProber checks liveness over HTTP. Stream URLs that look like HLS are
// fetched and their master playlist inspected for the best variant
// resolution; other URLs get a HEAD (GET with a small Range when HEAD is
// refused).
type HTTPProber struct {
	Client  *http.Client
	Timeout time.Duration
	// HostSem limits concurrent requests per upstream host when non-nil.
	HostSem *httpclient.HostSemaphore
}

// NewHTTPProber returns a prober with its own timeout-bound client.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HTTPProber{Client: httpclient.WithTimeout(timeout), Timeout: timeout}
}

// onlineStatus reports whether code means the stream exists. 403 is treated
// as online: many providers reject probes without player headers.
func onlineStatus(code int) bool {
	switch code {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent,
		http.StatusPartialContent, http.StatusForbidden:
		return true
	}
	return false
}

// notStreamContentType is true for pages and API errors served with 200.
func notStreamContentType(ct string) bool {
	ct = strings.ToLower(ct)
	for _, bad := range []string{"text/html", "text/plain", "application/json"} {
		if strings.Contains(ct, bad) {
			return true
		}
	}
	return false
}

func isHLS(streamURL string) bool {
	return strings.Contains(strings.ToLower(streamURL), ".m3u8")
}

func (p *HTTPProber) Probe(ctx context.Context, streamURL string) (Record, error) {
	if streamURL == "" || streamURL == playlist.ClearedURL || !safeurl.IsHTTPOrHTTPS(streamURL) {
		return Failed(), nil
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	if p.HostSem != nil {
		release, err := p.HostSem.Acquire(ctx, streamURL)
		if err != nil {
			return Failed(), err
		}
		defer release()
	}
	if isHLS(streamURL) {
		return p.probeHLS(ctx, streamURL)
	}

	resp, err := p.do(ctx, http.MethodHead, streamURL)
	if err != nil {
		return Failed(), err
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp, err = p.do(ctx, http.MethodGet, streamURL)
		if err != nil {
			return Failed(), err
		}
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		resp.Body.Close()
	}
	if !onlineStatus(resp.StatusCode) {
		return Failed(), nil
	}
	if notStreamContentType(resp.Header.Get("Content-Type")) {
		return Failed(), nil
	}
	return OK(QualityFromURL(streamURL), ""), nil
}

func (p *HTTPProber) do(ctx context.Context, method, streamURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, streamURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", probeUserAgent)
	req.Header.Set("Accept", "*/*")
	if method == http.MethodGet {
		req.Header.Set("Range", sampleRange)
	}
	client := p.Client
	if client == nil {
		client = httpclient.Default()
	}
	return client.Do(req)
}

// probeHLS fetches the playlist. A master playlist yields the best variant's
// quality; a media playlist must list at least one segment.
func (p *HTTPProber) probeHLS(ctx context.Context, streamURL string) (Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return Failed(), err
	}
	req.Header.Set("User-Agent", probeUserAgent)
	req.Header.Set("Accept", "*/*")
	client := p.Client
	if client == nil {
		client = httpclient.Default()
	}
	resp, err := client.Do(req)
	if err != nil {
		return Failed(), err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusForbidden {
		return OK(QualityFromURL(streamURL), ""), nil
	}
	if !onlineStatus(resp.StatusCode) {
		return Failed(), fmt.Errorf("hls: HTTP %d", resp.StatusCode)
	}
	if notStreamContentType(resp.Header.Get("Content-Type")) {
		return Failed(), nil
	}
	variants, segments, err := scanHLS(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return Failed(), err
	}
	if best, ok := BestVariant(variants); ok {
		rec := RecordForVariant(best)
		if rec.Quality == playlist.QualityUnknown {
			rec.Quality = QualityFromURL(streamURL)
		}
		return rec, nil
	}
	if segments == 0 {
		return Failed(), nil
	}
	return OK(QualityFromURL(streamURL), ""), nil
}

// scanHLS collects master playlist variants and counts media segment URIs.
func scanHLS(r io.Reader) (variants []Variant, segments int, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, 64*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			variants = append(variants, parseStreamInf(line[len("#EXT-X-STREAM-INF:"):]))
		case line == "" || strings.HasPrefix(line, "#"):
		default:
			segments++
		}
	}
	return variants, segments, sc.Err()
}
