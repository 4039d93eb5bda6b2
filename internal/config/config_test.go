package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/plextuner/m3u-curator/internal/normalize"
	"github.com/plextuner/m3u-curator/internal/verify"
)

func TestLoad_defaults(t *testing.T) {
	c := Load()
	if c.Verify.Concurrency != 10 || c.Verify.QualityMax != verify.DefaultQualityMax {
		t.Errorf("verify defaults: %+v", c.Verify)
	}
	if c.Verify.Timeout != verify.DefaultProbeTimeout || c.Verify.CacheTTL != 4*time.Hour {
		t.Errorf("durations: %+v", c.Verify)
	}
	if c.Search.MinSimilarity != 0.6 || c.Search.EPGBrowseMin != 0.4 || c.Search.EPGSuggestMin != 0.5 {
		t.Errorf("search defaults: %+v", c.Search)
	}
	if !reflect.DeepEqual(c.Affixes(), normalize.Default()) {
		t.Errorf("Affixes = %+v", c.Affixes())
	}
	if m, err := c.VerifyMode(); err != nil || m != verify.ModeSimple {
		t.Errorf("VerifyMode = %v, %v", m, err)
	}
}

func TestLoad_env(t *testing.T) {
	t.Setenv("M3U_CURATOR_PLAYLIST", "http://provider.test/get.php")
	t.Setenv("M3U_CURATOR_VERIFY_CONCURRENCY", "-3")
	t.Setenv("M3U_CURATOR_VERIFY_TIMEOUT", "3s")
	t.Setenv("M3U_CURATOR_VERIFY_RATE", "2.5")
	t.Setenv("M3U_CURATOR_PREFIXES", "| UK |, | US |,")
	t.Setenv("M3U_CURATOR_SUFFIXES", "")
	t.Setenv("M3U_CURATOR_MIN_SIMILARITY", "1.5")
	c := Load()
	if c.PlaylistURL != "http://provider.test/get.php" {
		t.Errorf("PlaylistURL = %q", c.PlaylistURL)
	}
	if c.Verify.Concurrency != 10 {
		t.Errorf("invalid concurrency should fall back to 10; got %d", c.Verify.Concurrency)
	}
	if c.Verify.Timeout != 3*time.Second || c.Verify.Rate != 2.5 {
		t.Errorf("verify: %+v", c.Verify)
	}
	a := c.Affixes()
	if !reflect.DeepEqual(a.Prefixes, []string{"| UK |", "| US |"}) || len(a.Suffixes) != 0 {
		t.Errorf("Affixes = %+v", a)
	}
	if c.Search.MinSimilarity != 0.6 {
		t.Errorf("out of range similarity kept: %v", c.Search.MinSimilarity)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curator.yaml")
	doc := `
epg_url: http://epg.test/guide.xml.gz
prefixes: ["[VIP]"]
verify:
  mode: quality
  timeout: 20s
  quality_max: 5
  ffprobe: /usr/bin/ffprobe
search:
  epg_suggest_min: 0.7
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	c := Load()
	if err := c.LoadFile(path); err != nil {
		t.Fatal(err)
	}
	if c.EPGURL != "http://epg.test/guide.xml.gz" || c.Verify.FFProbe != "/usr/bin/ffprobe" {
		t.Errorf("overlay: %+v", c)
	}
	if c.Verify.Timeout != 20*time.Second || c.Verify.QualityMax != 5 || c.Verify.Concurrency != 10 {
		t.Errorf("verify overlay: %+v", c.Verify)
	}
	if m, _ := c.VerifyMode(); m != verify.ModeQuality {
		t.Errorf("mode = %v", m)
	}
	if c.Search.EPGSuggestMin != 0.7 || c.Search.MinSimilarity != 0.6 {
		t.Errorf("search overlay: %+v", c.Search)
	}
	if a := c.Affixes(); !reflect.DeepEqual(a.Prefixes, []string{"[VIP]"}) || !reflect.DeepEqual(a.Suffixes, normalize.DefaultSuffixes) {
		t.Errorf("Affixes = %+v", a)
	}

	if err := c.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Errorf("missing file: %v", err)
	}
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("verify: [1, 2"), 0o644)
	if err := c.LoadFile(bad); err == nil {
		t.Error("expected error for malformed YAML")
	}
}
