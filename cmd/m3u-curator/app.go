package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/plextuner/m3u-curator/internal/config"
	"github.com/plextuner/m3u-curator/internal/httpclient"
	"github.com/plextuner/m3u-curator/internal/safeurl"
	"github.com/plextuner/m3u-curator/internal/session"
	"github.com/plextuner/m3u-curator/internal/source"
	"github.com/plextuner/m3u-curator/internal/store"
	"github.com/plextuner/m3u-curator/internal/verify"
)

// app wires one session to its store, loader and verifier for a command.
type app struct {
	cfg    *config.Config
	store  *store.Store
	reg    *prometheus.Registry
	loader *source.Loader
	sess   *session.Session
}

func newApp(cfg *config.Config, mode verify.Mode) (*app, error) {
	a := &app{
		cfg:    cfg,
		reg:    prometheus.NewRegistry(),
		loader: &source.Loader{UserAgent: cfg.UserAgent},
	}
	if cfg.StorePath != "" {
		st, err := store.Open(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		a.store = st
	}

	orch := verify.New(newProber(cfg, mode))
	orch.Metrics = verify.NewMetrics(a.reg)
	orch.Logger = log.Default()
	if cfg.Verify.Rate > 0 {
		orch.Limiter = rate.NewLimiter(rate.Limit(cfg.Verify.Rate), 1)
	}
	if a.store != nil && cfg.Verify.CacheTTL > 0 {
		orch.Cache = a.store.Scoped(string(mode))
		orch.CacheTTL = cfg.Verify.CacheTTL
		a.pruneCache(cfg.Verify.CacheTTL)
	}

	// Affixes from the environment or config file win over saved settings.
	var settings session.Settings = session.Static(cfg.Affixes())
	if a.store != nil && cfg.Prefixes == nil && cfg.Suffixes == nil {
		settings = a.store
	}
	a.sess = session.New(session.Options{
		Verifier:      orch,
		Settings:      settings,
		Logger:        log.Default(),
		EPGBrowseMin:  cfg.Search.EPGBrowseMin,
		EPGSuggestMin: cfg.Search.EPGSuggestMin,
	})
	return a, nil
}

// newProber picks the probe chain: HTTP always, ffprobe on top in quality
// mode when configured, and a remote analysis endpoint in front of both.
func newProber(cfg *config.Config, mode verify.Mode) verify.Prober {
	hp := verify.NewHTTPProber(cfg.Verify.Timeout)
	hp.HostSem = httpclient.NewHostSemaphore(cfg.Verify.HostLimit)
	var p verify.Prober = hp
	if mode == verify.ModeQuality && cfg.Verify.FFProbe != "" {
		p = &verify.FFProbeProber{Binary: cfg.Verify.FFProbe, Online: hp, Timeout: 2 * cfg.Verify.Timeout}
	}
	if cfg.Verify.RemoteURL != "" {
		p = &verify.RemoteProber{
			Endpoint:       cfg.Verify.RemoteURL,
			Client:         httpclient.WithTimeout(3 * cfg.Verify.Timeout),
			TimeoutSeconds: int(cfg.Verify.Timeout / time.Second),
			Fallback:       p,
		}
	}
	return p
}

// pruneCache drops verification results older than ttl; they can no longer
// answer a lookup.
func (a *app) pruneCache(ttl time.Duration) {
	n, err := a.store.PruneResults(context.Background(), time.Now().Add(-ttl))
	if err != nil {
		log.Printf("store: prune cache: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Pruned %d expired verification results", n)
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Printf("store: close: %v", err)
	}
}

func (a *app) loadMain(ctx context.Context, location string) error {
	if location == "" {
		return errors.New("no playlist given (use -in or set M3U_CURATOR_PLAYLIST)")
	}
	rc, err := a.loader.Open(ctx, location)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := a.sess.LoadMain(rc); err != nil {
		return fmt.Errorf("load %s: %w", safeurl.RedactURL(location), err)
	}
	log.Printf("Loaded %d channels from %s", len(a.sess.Main()), safeurl.RedactURL(location))
	return nil
}

func (a *app) loadCandidates(ctx context.Context, location string) error {
	if location == "" {
		return errors.New("no candidate playlist given (use -candidates or set M3U_CURATOR_CANDIDATES)")
	}
	rc, err := a.loader.Open(ctx, location)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := a.sess.LoadCandidates(rc); err != nil {
		return fmt.Errorf("load %s: %w", safeurl.RedactURL(location), err)
	}
	log.Printf("Loaded %d candidates from %s", len(a.sess.Candidates()), safeurl.RedactURL(location))
	return nil
}

// loadEPG loads an XMLTV guide, or a plain id list when no guide is given.
func (a *app) loadEPG(ctx context.Context, guide, idList, logoFolder string) error {
	var err error
	switch {
	case guide != "":
		chs, ferr := a.loader.FetchEPG(ctx, guide)
		err = ferr
		a.sess.LoadEPG(chs)
	case idList != "":
		chs, ferr := a.loader.FetchIDList(ctx, idList, logoFolder)
		err = ferr
		a.sess.LoadEPG(chs)
	default:
		return errors.New("no guide given (use -epg / -id-list or set M3U_CURATOR_EPG)")
	}
	if err != nil {
		return err
	}
	log.Printf("Loaded %d guide channels", len(a.sess.EPG()))
	return nil
}

// writePlaylist writes the main list to path; "-" is stdout.
func (a *app) writePlaylist(path string) error {
	if path == "" {
		return nil
	}
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := a.sess.WriteTo(w); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if path != "-" {
		log.Printf("Wrote %d channels to %s", len(a.sess.Main()), path)
	}
	return nil
}

// serveMetrics exposes the app's registry on addr until ctx ends.
func (a *app) serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Printf("Metrics on http://%s/metrics", addr)
}
