package source

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/plextuner/m3u-curator/internal/epglink"
)

const m3u = `#EXTM3U
#EXTINF:-1 tvg-id="cnn.us" group-title="News",CNN
http://provider.test/cnn.ts
#EXTINF:-1 group-title="Sports",ESPN
http://provider.test/espn.ts
`

const guide = `<?xml version="1.0" encoding="UTF-8"?>
<tv>
  <channel id="cnn.us"><display-name>CNN</display-name><icon src="http://logo.test/cnn.png"/></channel>
  <channel id="espn.us"><display-name>ESPN</display-name></channel>
</tv>`

func gz(t *testing.T, s string) []byte {
	t.Helper()
	var b strings.Builder
	zw := gzip.NewWriter(&b)
	io.WriteString(zw, s)
	zw.Close()
	return []byte(b.String())
}

func TestFetchFromURL(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/list.m3u":
			io.WriteString(w, m3u)
		case "/guide.xml.gz":
			w.Write(gz(t, guide))
		case "/channels.json":
			io.WriteString(w, `[{"id":"cnn.us","name":"CNN","country":"US"},{"id":"bbcone.uk","name":"BBC One","country":"UK"}]`)
		case "/ids.txt":
			io.WriteString(w, "cnn.us\n\nespn.us\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	l := &Loader{UserAgent: "test-agent"}
	chs, err := l.FetchPlaylist(ctx, srv.URL+"/list.m3u")
	if err != nil || len(chs) != 2 || chs[0].TVGID != "cnn.us" {
		t.Fatalf("FetchPlaylist=%+v err=%v", chs, err)
	}
	if ua != "test-agent" {
		t.Errorf("User-Agent=%q", ua)
	}
	epg, err := l.FetchEPG(ctx, srv.URL+"/guide.xml.gz")
	if err != nil || len(epg) != 2 || epg[0].Logo != "http://logo.test/cnn.png" {
		t.Fatalf("FetchEPG=%+v err=%v", epg, err)
	}
	ids, err := l.FetchIDList(ctx, srv.URL+"/ids.txt", "http://logos.test/$/")
	if err != nil || len(ids) != 2 || ids[1].Logo != "http://logos.test/espn.us.png" {
		t.Fatalf("FetchIDList=%+v err=%v", ids, err)
	}
	org, err := l.FetchIPTVOrg(ctx, srv.URL+"/channels.json", epglink.IPTVOrgFilter{Countries: []string{"uk"}})
	if err != nil || len(org) != 1 || org[0].ID != "bbcone.uk" {
		t.Fatalf("FetchIPTVOrg=%+v err=%v", org, err)
	}
	if _, err := l.FetchPlaylist(ctx, srv.URL+"/missing"); err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Fatalf("missing: err=%v", err)
	}
}

func TestFetchFromFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "list.m3u")
	if err := os.WriteFile(p, []byte(m3u), 0o644); err != nil {
		t.Fatal(err)
	}
	l := &Loader{}
	chs, err := l.FetchPlaylist(context.Background(), p)
	if err != nil || len(chs) != 2 {
		t.Fatalf("FetchPlaylist=%d err=%v", len(chs), err)
	}
	if _, err := l.Open(context.Background(), filepath.Join(dir, "nope.m3u")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file: err=%v", err)
	}
	if _, err := l.Open(context.Background(), "  "); !errors.Is(err, ErrEmptyLocation) {
		t.Fatalf("empty: err=%v", err)
	}
}

func TestCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/denied" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, m3u)
	}))
	defer srv.Close()
	ctx := context.Background()

	if err := Check(ctx, srv.URL+"/ok"); err != nil {
		t.Fatalf("ok: %v", err)
	}
	if err := Check(ctx, srv.URL+"/denied"); err == nil {
		t.Fatal("expected error for 401")
	}
	if err := Check(ctx, ""); !errors.Is(err, ErrEmptyLocation) {
		t.Fatalf("empty: %v", err)
	}
	p := filepath.Join(t.TempDir(), "x.m3u")
	os.WriteFile(p, nil, 0o644)
	if err := Check(ctx, p); err != nil {
		t.Fatalf("file: %v", err)
	}
}
