package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/plextuner/m3u-curator/internal/normalize"
	"github.com/plextuner/m3u-curator/internal/search"
	"github.com/plextuner/m3u-curator/internal/verify"
)

// Config holds source locations, verification tuning and search thresholds.
// Load reads it from the environment; LoadFile overlays a YAML file.
type Config struct {
	// Sources (path or http(s) URL)
	PlaylistURL   string `yaml:"playlist_url"`
	CandidatesURL string `yaml:"candidates_url"` // repair list
	EPGURL        string `yaml:"epg_url"`        // XMLTV guide
	EPGIDListURL  string `yaml:"epg_id_list_url"`
	EPGLogoFolder string `yaml:"epg_logo_folder"` // logo base for EPGIDListURL
	UserAgent     string `yaml:"user_agent"`

	// StorePath is the sqlite settings/cache database. "" disables it.
	StorePath string `yaml:"store_path"`

	Prefixes []string `yaml:"prefixes"` // nil = normalize.DefaultPrefixes
	Suffixes []string `yaml:"suffixes"`

	Verify VerifyConfig `yaml:"verify"`
	Search SearchConfig `yaml:"search"`

	MetricsAddr string `yaml:"metrics_addr"` // e.g. :9109; "" = no /metrics
}

type VerifyConfig struct {
	Mode        string        `yaml:"mode"` // simple | quality
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
	QualityMax  int           `yaml:"quality_max"`
	Rate        float64       `yaml:"rate"`       // probes per second; 0 = unlimited
	HostLimit   int           `yaml:"host_limit"` // concurrent probes per upstream host
	CacheTTL    time.Duration `yaml:"cache_ttl"`  // 0 disables the result cache
	FFProbe     string        `yaml:"ffprobe"`    // binary for quality mode; "" = HTTP only
	RemoteURL   string        `yaml:"remote_url"` // remote analysis endpoint
}

type SearchConfig struct {
	MinSimilarity  float64 `yaml:"min_similarity"`
	EPGBrowseMin   float64 `yaml:"epg_browse_min"`
	EPGSuggestMin  float64 `yaml:"epg_suggest_min"`
	MaxSuggestions int     `yaml:"max_suggestions"`
}

// Load reads config from environment. Call LoadEnvFile(".env") first to pick
// up a .env file.
func Load() *Config {
	c := &Config{
		PlaylistURL:   os.Getenv("M3U_CURATOR_PLAYLIST"),
		CandidatesURL: os.Getenv("M3U_CURATOR_CANDIDATES"),
		EPGURL:        os.Getenv("M3U_CURATOR_EPG"),
		EPGIDListURL:  os.Getenv("M3U_CURATOR_EPG_ID_LIST"),
		EPGLogoFolder: os.Getenv("M3U_CURATOR_EPG_LOGO_FOLDER"),
		UserAgent:     os.Getenv("M3U_CURATOR_USER_AGENT"),
		StorePath:     getEnv("M3U_CURATOR_STORE", "./m3u-curator.db"),
		Prefixes:      getEnvList("M3U_CURATOR_PREFIXES"),
		Suffixes:      getEnvList("M3U_CURATOR_SUFFIXES"),
		Verify: VerifyConfig{
			Mode:        getEnv("M3U_CURATOR_VERIFY_MODE", string(verify.ModeSimple)),
			Concurrency: getEnvInt("M3U_CURATOR_VERIFY_CONCURRENCY", 10),
			Timeout:     getEnvDuration("M3U_CURATOR_VERIFY_TIMEOUT", verify.DefaultProbeTimeout),
			QualityMax:  getEnvInt("M3U_CURATOR_QUALITY_MAX", verify.DefaultQualityMax),
			Rate:        getEnvFloat("M3U_CURATOR_VERIFY_RATE", 0),
			HostLimit:   getEnvInt("M3U_CURATOR_VERIFY_HOST_LIMIT", 4),
			CacheTTL:    getEnvDuration("M3U_CURATOR_CACHE_TTL", 4*time.Hour),
			FFProbe:     os.Getenv("M3U_CURATOR_FFPROBE"),
			RemoteURL:   os.Getenv("M3U_CURATOR_REMOTE_PROBE_URL"),
		},
		Search: SearchConfig{
			MinSimilarity:  getEnvFloat("M3U_CURATOR_MIN_SIMILARITY", search.MinSimilaritySearch),
			EPGBrowseMin:   getEnvFloat("M3U_CURATOR_EPG_BROWSE_MIN", search.MinSimilarityEPGBrowse),
			EPGSuggestMin:  getEnvFloat("M3U_CURATOR_EPG_SUGGEST_MIN", search.MinSimilarityEPGSuggest),
			MaxSuggestions: getEnvInt("M3U_CURATOR_MAX_SUGGESTIONS", search.DefaultMaxSuggestions),
		},
		MetricsAddr: os.Getenv("M3U_CURATOR_METRICS_ADDR"),
	}
	c.fill()
	return c
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current value. A missing file is not an error.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	c.fill()
	return nil
}

// fill replaces out-of-range values with defaults.
func (c *Config) fill() {
	if c.Verify.Concurrency <= 0 {
		c.Verify.Concurrency = 10
	}
	if c.Verify.Timeout <= 0 {
		c.Verify.Timeout = verify.DefaultProbeTimeout
	}
	if c.Verify.QualityMax <= 0 {
		c.Verify.QualityMax = verify.DefaultQualityMax
	}
	if c.Verify.HostLimit <= 0 {
		c.Verify.HostLimit = 4
	}
	if c.Verify.Rate < 0 {
		c.Verify.Rate = 0
	}
	if c.Search.MinSimilarity <= 0 || c.Search.MinSimilarity > 1 {
		c.Search.MinSimilarity = search.MinSimilaritySearch
	}
	if c.Search.EPGBrowseMin <= 0 || c.Search.EPGBrowseMin > 1 {
		c.Search.EPGBrowseMin = search.MinSimilarityEPGBrowse
	}
	if c.Search.EPGSuggestMin <= 0 || c.Search.EPGSuggestMin > 1 {
		c.Search.EPGSuggestMin = search.MinSimilarityEPGSuggest
	}
	if c.Search.MaxSuggestions <= 0 {
		c.Search.MaxSuggestions = search.DefaultMaxSuggestions
	}
}

// Affixes returns the configured prefix and suffix lists, falling back to
// the defaults for whichever is unset.
func (c *Config) Affixes() normalize.Affixes {
	a := normalize.Default()
	if c.Prefixes != nil {
		a.Prefixes = append([]string(nil), c.Prefixes...)
	}
	if c.Suffixes != nil {
		a.Suffixes = append([]string(nil), c.Suffixes...)
	}
	return a
}

// VerifyMode parses Verify.Mode.
func (c *Config) VerifyMode() (verify.Mode, error) {
	return verify.ParseMode(c.Verify.Mode)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, _ := strconv.Atoi(v)
		return n
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList splits a comma-separated value. Unset yields nil; set but blank
// yields an empty, non-nil list.
func getEnvList(key string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
