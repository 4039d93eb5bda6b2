package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/plextuner/m3u-curator/internal/httpclient"
	"github.com/plextuner/m3u-curator/internal/playlist"
)

// RemoteProber asks an analysis endpoint to inspect the stream and trusts the
// answer only when it is ok with a known quality. Anything else, including
// endpoint errors, falls through to Fallback.
type RemoteProber struct {
	Endpoint string
	Client   *http.Client
	// TimeoutSeconds is passed to the endpoint as its own probe budget.
	TimeoutSeconds int
	Fallback       Prober
}

type remoteResult struct {
	Status     string `json:"status"`
	Quality    string `json:"quality"`
	Resolution string `json:"resolution"`
}

func (p *RemoteProber) Probe(ctx context.Context, streamURL string) (Record, error) {
	if rec, err := p.ask(ctx, streamURL); err == nil &&
		rec.Status == playlist.StatusOK && rec.Quality != playlist.QualityUnknown {
		return rec, nil
	}
	if p.Fallback == nil {
		return Failed(), nil
	}
	return p.Fallback.Probe(ctx, streamURL)
}

func (p *RemoteProber) ask(ctx context.Context, streamURL string) (Record, error) {
	if p.Endpoint == "" {
		return Record{}, fmt.Errorf("remote probe: no endpoint")
	}
	timeout := p.TimeoutSeconds
	if timeout <= 0 {
		timeout = 15
	}
	u, err := url.Parse(p.Endpoint)
	if err != nil {
		return Record{}, fmt.Errorf("remote probe: %w", err)
	}
	q := u.Query()
	q.Set("url", streamURL)
	q.Set("timeout", strconv.Itoa(timeout))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Record{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := httpclient.DoWithRetry(ctx, p.Client, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return Record{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Record{}, fmt.Errorf("remote probe: HTTP %d", resp.StatusCode)
	}
	var res remoteResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&res); err != nil {
		return Record{}, fmt.Errorf("remote probe decode: %w", err)
	}
	quality := playlist.Quality(res.Quality)
	switch quality {
	case playlist.Quality4K, playlist.QualityFHD, playlist.QualityHD, playlist.QualitySD:
	default:
		quality = playlist.QualityUnknown
	}
	if res.Status != string(playlist.StatusOK) {
		return Failed(), nil
	}
	return OK(quality, res.Resolution), nil
}
