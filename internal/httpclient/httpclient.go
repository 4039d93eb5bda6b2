// Package httpclient holds the shared HTTP client used for playlist and guide
// downloads and stream probes.
package httpclient

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16
)

var defaultClient = &http.Client{
	Timeout:   DefaultTimeout,
	Transport: NewTransport(),
}

// NewTransport returns a pooled transport that asks for brotli or gzip and
// transparently decodes either.
func NewTransport() http.RoundTripper {
	return &decodingTransport{base: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: MaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
	}}
}

// Default returns the shared client.
func Default() *http.Client {
	return defaultClient
}

// WithTimeout returns a client with its own transport and the given timeout.
func WithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: NewTransport()}
}

type decodingTransport struct {
	base *http.Transport
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Range reads and caller-chosen encodings are passed through untouched.
	if req.Header.Get("Accept-Encoding") != "" || req.Header.Get("Range") != "" {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("Accept-Encoding", "br, gzip")
	resp, err := t.base.RoundTrip(req)
	if err != nil || req.Method == http.MethodHead {
		return resp, err
	}
	var body io.Reader
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		body = brotli.NewReader(resp.Body)
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		body = zr
	default:
		return resp, nil
	}
	resp.Body = &decodedBody{Reader: body, closer: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return resp, nil
}

func (t *decodingTransport) CloseIdleConnections() { t.base.CloseIdleConnections() }

type decodedBody struct {
	io.Reader
	closer io.Closer
}

func (b *decodedBody) Close() error { return b.closer.Close() }
