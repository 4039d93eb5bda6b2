package verify

import (
	"strings"
	"testing"

	"github.com/plextuner/m3u-curator/internal/playlist"
)

func TestClassifyResolution(t *testing.T) {
	tests := []struct {
		w, h int
		want playlist.Quality
	}{
		{3840, 2160, playlist.Quality4K},
		{4096, 1716, playlist.Quality4K},
		{1920, 1080, playlist.QualityFHD},
		{1440, 1080, playlist.QualityFHD},
		{1280, 720, playlist.QualityHD},
		{854, 480, playlist.QualitySD},
		{640, 360, playlist.QualitySD},
		{0, 0, playlist.QualityUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyResolution(tt.w, tt.h); got != tt.want {
			t.Errorf("ClassifyResolution(%d,%d)=%s want %s", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestClassifyBitrate(t *testing.T) {
	tests := map[int64]playlist.Quality{
		25_000_000: playlist.Quality4K,
		8_000_000:  playlist.QualityFHD,
		4_500_000:  playlist.QualityHD,
		1_200_000:  playlist.QualitySD,
		500_000:    playlist.QualityUnknown,
		0:          playlist.QualityUnknown,
	}
	for bps, want := range tests {
		if got := ClassifyBitrate(bps); got != want {
			t.Errorf("ClassifyBitrate(%d)=%s want %s", bps, got, want)
		}
	}
}

func TestQualityFromURL(t *testing.T) {
	tests := map[string]playlist.Quality{
		"http://cdn.example/live/uhd/ch1.m3u8":     playlist.Quality4K,
		"http://cdn.example/live/ch1_1080p.m3u8":   playlist.QualityUnknown,
		"http://cdn.example/live/1080p/ch1.m3u8":   playlist.QualityFHD,
		"http://cdn.example/HD/ch1.ts":             playlist.QualityHD,
		"http://cdn.example/live/480/ch1.ts":       playlist.QualitySD,
		"http://cdn.example/live/channel/index.ts": playlist.QualityUnknown,
	}
	for u, want := range tests {
		if got := QualityFromURL(u); got != want {
			t.Errorf("QualityFromURL(%q)=%s want %s", u, got, want)
		}
	}
}

func TestBestVariant(t *testing.T) {
	if _, ok := BestVariant(nil); ok {
		t.Fatal("empty list: want ok=false")
	}
	vs := []Variant{
		{Width: 1280, Height: 720, Bandwidth: 3_000_000},
		{Width: 1920, Height: 1080, Bandwidth: 5_000_000},
		{Width: 1920, Height: 1080, Bandwidth: 7_000_000},
	}
	best, _ := BestVariant(vs)
	if best.Bandwidth != 7_000_000 {
		t.Fatalf("best=%+v", best)
	}
	if rec := RecordForVariant(best); rec.Quality != playlist.QualityFHD || rec.Resolution != "1920x1080" {
		t.Fatalf("RecordForVariant=%+v", rec)
	}
	if rec := RecordForVariant(Variant{Bandwidth: 2_000_000}); rec.Quality != playlist.QualitySD || rec.Status != playlist.StatusOK {
		t.Fatalf("bandwidth only=%+v", rec)
	}
}

func TestScanHLS(t *testing.T) {
	body := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,CODECS=\"avc1.42e00a,mp4a.40.2\",RESOLUTION=640x360\n" +
		"low/index.m3u8\n"
	vs, segs, err := scanHLS(strings.NewReader(body))
	if err != nil || len(vs) != 1 {
		t.Fatalf("vs=%+v err=%v", vs, err)
	}
	if vs[0].Width != 640 || vs[0].Height != 360 || vs[0].Bandwidth != 800000 || vs[0].Codecs != "avc1.42e00a,mp4a.40.2" {
		t.Fatalf("variant=%+v", vs[0])
	}
	if segs != 1 {
		t.Fatalf("segments=%d (variant URIs count as lines)", segs)
	}
}
