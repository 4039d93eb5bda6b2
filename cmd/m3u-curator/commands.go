package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/plextuner/m3u-curator/internal/config"
	"github.com/plextuner/m3u-curator/internal/epglink"
	"github.com/plextuner/m3u-curator/internal/normalize"
	"github.com/plextuner/m3u-curator/internal/playlist"
	"github.com/plextuner/m3u-curator/internal/safeurl"
	"github.com/plextuner/m3u-curator/internal/source"
	"github.com/plextuner/m3u-curator/internal/store"
	"github.com/plextuner/m3u-curator/internal/verify"
)

// savedOr returns v, or the location saved under key when v is empty.
func (a *app) savedOr(ctx context.Context, v, key string) string {
	if v != "" || a.store == nil {
		return v
	}
	saved, _, err := a.store.Get(ctx, key)
	if err != nil {
		log.Printf("store: %v", err)
	}
	return saved
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func channelIDs(chs []playlist.Channel) []string {
	ids := make([]string, len(chs))
	for i, c := range chs {
		ids[i] = c.ID
	}
	return ids
}

// cancelOnDone turns ctx cancellation into a cooperative batch cancel, so
// probes in flight finish and their results are kept. Cancel only reaches a
// running batch, so an interrupt that lands before the batch starts is
// repeated until it takes or stop is called.
func (a *app) cancelOnDone(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			log.Printf("Interrupted; waiting for in-flight probes")
		case <-done:
			return
		}
		tick := time.NewTicker(cancelRetryInterval)
		defer tick.Stop()
		for {
			a.sess.Cancel()
			if a.sess.Verifier().Running() {
				return
			}
			select {
			case <-tick.C:
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

const cancelRetryInterval = 50 * time.Millisecond

func progressLogger(label string) func(verify.Progress) {
	return func(p verify.Progress) {
		step := max(1, p.Total/10)
		if p.Running && p.Completed%step != 0 {
			return
		}
		if p.Running || p.Completed > 0 {
			log.Printf("%s %d/%d", label, p.Completed, p.Total)
		}
	}
}

func runStats(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	in := fs.String("in", cfg.PlaylistURL, "Playlist path or URL (default: M3U_CURATOR_PLAYLIST)")
	guide := fs.String("epg", "", "XMLTV guide; when set, tvg-ids are checked against it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	local := *cfg
	local.StorePath = ""
	a, err := newApp(&local, verify.ModeSimple)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.loadMain(ctx, *in); err != nil {
		return err
	}
	var known map[string]struct{}
	if *guide != "" {
		if err := a.loadEPG(ctx, *guide, "", ""); err != nil {
			return err
		}
		known = epglink.IDSet(a.sess.EPG())
	}

	type counts struct{ channels, linked, unassigned, broken int }
	per := make(map[string]*counts)
	var total counts
	for _, c := range a.sess.Main() {
		g := c.GroupTitle
		if g == "" {
			g = "(none)"
		}
		n := per[g]
		if n == nil {
			n = &counts{}
			per[g] = n
		}
		for _, k := range []*counts{n, &total} {
			k.channels++
			if c.TVGID != "" {
				if _, ok := known[c.TVGID]; ok || known == nil {
					k.linked++
				}
			}
			if c.Unassigned() {
				k.unassigned++
			}
			if c.URL == playlist.ClearedURL || c.URL == playlist.UnavailableURL {
				k.broken++
			}
		}
	}
	groups := make([]string, 0, len(per))
	for g := range per {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	row := func(name string, k counts) []string {
		return []string{name, strconv.Itoa(k.channels), strconv.Itoa(k.linked), strconv.Itoa(k.unassigned), strconv.Itoa(k.broken)}
	}
	rows := make([][]string, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, row(g, *per[g]))
	}
	linkedHdr := "With tvg-id"
	if known != nil {
		linkedHdr = "In guide"
	}
	fmt.Fprintln(out, renderTable(
		[]column{textCol("Group", nameWidth), numCol("Channels"), numCol(linkedHdr), numCol("Unassigned"), numCol("No stream")},
		rows,
		row("Total", total),
	))
	return nil
}

func runCheck(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	sources := []struct{ name, loc string }{
		{"playlist", cfg.PlaylistURL},
		{"candidates", cfg.CandidatesURL},
		{"epg", cfg.EPGURL},
		{"epg id list", cfg.EPGIDListURL},
	}
	var rows [][]string
	failed := 0
	for _, s := range sources {
		if s.loc == "" {
			continue
		}
		result := "ok"
		if err := source.Check(ctx, s.loc); err != nil {
			result = err.Error()
			failed++
		}
		rows = append(rows, []string{s.name, safeurl.RedactURL(s.loc), result})
	}
	if len(rows) == 0 {
		return errors.New("no sources configured")
	}
	fmt.Fprintln(out, renderTable([]column{textCol("Source", 0), textCol("Location", urlWidth), textCol("Result", urlWidth)}, rows, nil))
	if failed > 0 {
		return fmt.Errorf("%d of %d sources unreachable", failed, len(rows))
	}
	return nil
}

func runSearch(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	in := fs.String("in", "", "Playlist to search (default: M3U_CURATOR_CANDIDATES, then M3U_CURATOR_PLAYLIST)")
	guide := fs.String("epg", "", "Search this XMLTV guide instead of a playlist")
	minSim := fs.Float64("min", cfg.Search.MinSimilarity, "Minimum fuzzy similarity for playlist search (0-1)")
	limit := fs.Int("limit", 20, "Maximum results")
	suggest := fs.Bool("suggest", false, "Print completions for the query instead of results")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("no query given")
	}
	a, err := newApp(cfg, verify.ModeSimple)
	if err != nil {
		return err
	}
	defer a.Close()

	var rows [][]string
	if *guide != "" {
		if err := a.loadEPG(ctx, *guide, "", ""); err != nil {
			return err
		}
		for i, m := range a.sess.SearchEPG(query) {
			if i >= *limit {
				break
			}
			rows = append(rows, []string{strconv.Itoa(i + 1), fmt.Sprintf("%.2f", m.Score), string(m.Type), m.Item.Name, m.Item.ID})
		}
		fmt.Fprintln(out, renderTable([]column{numCol("#"), numCol("Score"), textCol("Match", 0), textCol("Name", nameWidth), textCol("Guide ID", nameWidth)}, rows, nil))
		return nil
	}

	loc := *in
	if loc == "" {
		loc = a.savedOr(ctx, cfg.CandidatesURL, store.KeyCandidatesURL)
	}
	if loc == "" {
		loc = a.savedOr(ctx, cfg.PlaylistURL, store.KeyPlaylistURL)
	}
	if err := a.loadCandidates(ctx, loc); err != nil {
		return err
	}
	if *suggest {
		for _, s := range a.sess.Suggest(query, cfg.Search.MaxSuggestions) {
			fmt.Fprintln(out, s)
		}
		return nil
	}
	for i, m := range a.sess.SearchCandidates(query, *minSim) {
		if i >= *limit {
			break
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), fmt.Sprintf("%.2f", m.Score), string(m.Type), m.Item.Name, m.Item.GroupTitle})
	}
	fmt.Fprintln(out, renderTable([]column{numCol("#"), numCol("Score"), textCol("Match", 0), textCol("Name", nameWidth), textCol("Group", nameWidth)}, rows, nil))
	return nil
}

func runVerify(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	in := fs.String("in", "", "Playlist path or URL (default: M3U_CURATOR_PLAYLIST)")
	outPath := fs.String("out", "", "Write the checked playlist here (- for stdout)")
	modeFlag := fs.String("mode", cfg.Verify.Mode, "simple (online check) or quality (resolution)")
	concurrency := fs.Int("concurrency", cfg.Verify.Concurrency, "Parallel probes")
	qualityMax := fs.Int("max", cfg.Verify.QualityMax, "Channel cap for quality mode")
	group := fs.String("group", "", "Only verify channels in this group")
	clearFailed := fs.Bool("clear-failed", false, "Replace failed URLs with a placeholder")
	deleteFailed := fs.Bool("delete-failed", false, "Remove failed channels")
	metricsAddr := fs.String("metrics-addr", cfg.MetricsAddr, "Serve Prometheus /metrics here while running")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *clearFailed && *deleteFailed {
		return errors.New("-clear-failed and -delete-failed are exclusive")
	}
	mode, err := verify.ParseMode(*modeFlag)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, mode)
	if err != nil {
		return err
	}
	defer a.Close()
	a.serveMetrics(ctx, *metricsAddr)
	if err := a.loadMain(ctx, a.savedOr(ctx, firstNonEmpty(*in, cfg.PlaylistURL), store.KeyPlaylistURL)); err != nil {
		return err
	}

	ids := channelIDs(a.sess.Filter(*group, ""))
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("verify: interrupted before start: %w", err)
	}
	stop := a.cancelOnDone(ctx)
	res, dropped, err := a.sess.Verify(context.WithoutCancel(ctx), ids, mode, *concurrency, *qualityMax, progressLogger("Verified"))
	stop()
	if err != nil {
		return err
	}
	if len(dropped) > 0 {
		log.Printf("Quality check capped at %d channels; %d skipped", *qualityMax, len(dropped))
	}
	if res.Cancelled {
		log.Printf("Cancelled after %d/%d channels", res.Completed, res.Total)
	}

	byOutcome := make(map[string]int)
	for _, id := range ids {
		rec := a.sess.Record(id)
		key := string(rec.Status)
		if rec.Status == playlist.StatusOK {
			key += " " + string(rec.Quality)
		}
		byOutcome[key]++
	}
	fmt.Fprintln(out, countTable("Result", "Channels", byOutcome))
	if failed := a.sess.FailedByGroup(); len(failed) > 0 {
		fmt.Fprintln(out, countTable("Group", "Failed", failed))
	}

	switch {
	case *clearFailed:
		log.Printf("Cleared %d failed URLs", a.sess.ClearFailedURLs())
	case *deleteFailed:
		log.Printf("Deleted %d failed channels", a.sess.DeleteFailed())
	}
	return a.writePlaylist(*outPath)
}

func runEPG(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("epg", flag.ContinueOnError)
	in := fs.String("in", "", "Playlist path or URL (default: M3U_CURATOR_PLAYLIST)")
	outPath := fs.String("out", "", "Write the updated playlist here (- for stdout)")
	guide := fs.String("epg", "", "XMLTV guide (default: M3U_CURATOR_EPG)")
	idList := fs.String("id-list", cfg.EPGIDListURL, "Plain guide id list, used when no XMLTV guide is given")
	logoFolder := fs.String("logo-folder", cfg.EPGLogoFolder, "Logo base URL for -id-list entries")
	iptvOrg := fs.String("iptv-org", "", "Use an iptv-org channels.json as the guide (\"default\" for the public list)")
	countries := fs.String("countries", "", "Comma-separated country codes kept from -iptv-org")
	group := fs.String("group", "", "Only assign channels in this group")
	showUnmatched := fs.Bool("unmatched", false, "List channels that found no guide entry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := newApp(cfg, verify.ModeSimple)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.loadMain(ctx, a.savedOr(ctx, firstNonEmpty(*in, cfg.PlaylistURL), store.KeyPlaylistURL)); err != nil {
		return err
	}
	if *iptvOrg != "" {
		loc := *iptvOrg
		if loc == "default" {
			loc = ""
		}
		chs, err := a.loader.FetchIPTVOrg(ctx, loc, epglink.IPTVOrgFilter{Countries: splitList(*countries)})
		if err != nil {
			return err
		}
		a.sess.LoadEPG(chs)
		log.Printf("Loaded %d iptv-org channels", len(chs))
	} else if err := a.loadEPG(ctx, a.savedOr(ctx, firstNonEmpty(*guide, cfg.EPGURL), store.KeyEPGURL), *idList, *logoFolder); err != nil {
		return err
	}
	var visible []string
	if *group != "" {
		visible = channelIDs(a.sess.Filter(*group, ""))
	}
	rep, err := a.sess.AutoAssignEPG(visible)
	if err != nil {
		return err
	}
	var rows [][]string
	for _, r := range rep.Rows {
		if r.Matched {
			rows = append(rows, []string{r.Name, r.MatchedID, string(r.Method)})
		}
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable([]column{textCol("Channel", nameWidth), textCol("Guide ID", nameWidth), textCol("Method", 0)}, rows, nil))
	}
	if *showUnmatched {
		var un [][]string
		for _, r := range rep.UnmatchedRows() {
			un = append(un, []string{r.Name})
		}
		fmt.Fprintln(out, renderTable([]column{textCol("Unmatched", nameWidth)}, un, nil))
	}
	fmt.Fprintln(out, rep.SummaryString())
	return a.writePlaylist(*outPath)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func runRepair(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("repair", flag.ContinueOnError)
	in := fs.String("in", "", "Playlist path or URL (default: M3U_CURATOR_PLAYLIST)")
	candidates := fs.String("candidates", "", "Repair playlist (default: M3U_CURATOR_CANDIDATES)")
	outPath := fs.String("out", "", "Write the repaired playlist here (- for stdout)")
	fieldsFlag := fs.String("fields", "url", "Fields copied from the best match with -apply (e.g. url,tvg-logo)")
	apply := fs.Bool("apply", false, "Copy fields from the best match onto each broken channel")
	top := fs.Int("top", 3, "Matches shown per channel")
	check := fs.Bool("verify", true, "Verify the playlist first so failed streams are found")
	concurrency := fs.Int("concurrency", cfg.Verify.Concurrency, "Parallel probes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	fields, err := playlist.ParseFieldSet(*fieldsFlag)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, verify.ModeSimple)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.loadMain(ctx, a.savedOr(ctx, firstNonEmpty(*in, cfg.PlaylistURL), store.KeyPlaylistURL)); err != nil {
		return err
	}
	if err := a.loadCandidates(ctx, a.savedOr(ctx, firstNonEmpty(*candidates, cfg.CandidatesURL), store.KeyCandidatesURL)); err != nil {
		return err
	}
	if *check {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("repair: interrupted before start: %w", err)
		}
		stop := a.cancelOnDone(ctx)
		_, _, err := a.sess.Verify(context.WithoutCancel(ctx), channelIDs(a.sess.Main()), verify.ModeSimple, *concurrency, 0, progressLogger("Verified"))
		stop()
		if err != nil {
			return err
		}
	}

	var rows [][]string
	applied := 0
	for _, ch := range a.sess.Repairable() {
		matches := a.sess.SearchCandidates(ch.Name, cfg.Search.MinSimilarity)
		if len(matches) == 0 {
			rows = append(rows, []string{ch.Name, "-", "", ""})
			continue
		}
		for i, m := range matches {
			if i >= *top {
				break
			}
			name := ""
			if i == 0 {
				name = ch.Name
			}
			rows = append(rows, []string{name, m.Item.Name, fmt.Sprintf("%.2f", m.Score), string(m.Type)})
		}
		if *apply && ctx.Err() == nil {
			ok, err := a.sess.AssignFromMatch(ctx, ch.ID, matches[0].Item, fields)
			if err != nil {
				return err
			}
			if ok {
				applied++
			}
		}
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "Nothing to repair")
	} else {
		fmt.Fprintln(out, renderTable([]column{textCol("Channel", nameWidth), textCol("Candidate", nameWidth), numCol("Score"), textCol("Match", 0)}, rows, nil))
	}
	if *apply {
		log.Printf("Applied %s from the best match to %d channels", fields, applied)
	}
	return a.writePlaylist(*outPath)
}

func runSettings(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("settings", flag.ContinueOnError)
	prefixes := fs.String("prefixes", "", "Comma-separated prefixes to strip when matching")
	suffixes := fs.String("suffixes", "", "Comma-separated suffixes to strip when matching")
	reset := fs.Bool("reset", false, "Restore the default prefixes and suffixes")
	savePlaylist := fs.String("playlist", "", "Save the default playlist location")
	saveCandidates := fs.String("candidates", "", "Save the default repair playlist location")
	saveEPG := fs.String("epg", "", "Save the default guide location")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.StorePath == "" {
		return errors.New("no store configured (set M3U_CURATOR_STORE)")
	}
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if *reset {
		if err := st.SaveAffixes(ctx, normalize.Default()); err != nil {
			return err
		}
	}
	for _, l := range []struct {
		flag, all, selected string
		val                 *string
	}{
		{"prefixes", store.KeyPrefixes, store.KeySelectedPrefixes, prefixes},
		{"suffixes", store.KeySuffixes, store.KeySelectedSuffixes, suffixes},
	} {
		if !set[l.flag] {
			continue
		}
		list := splitList(*l.val)
		if err := st.SetList(ctx, l.all, list); err != nil {
			return err
		}
		if err := st.SetList(ctx, l.selected, list); err != nil {
			return err
		}
	}
	for _, s := range []struct{ flag, key, val string }{
		{"playlist", store.KeyPlaylistURL, *savePlaylist},
		{"candidates", store.KeyCandidatesURL, *saveCandidates},
		{"epg", store.KeyEPGURL, *saveEPG},
	} {
		if set[s.flag] {
			if err := st.Set(ctx, s.key, s.val); err != nil {
				return err
			}
		}
	}

	a, err := st.Affixes(ctx)
	if err != nil {
		return err
	}
	rows := [][]string{
		{"prefixes", strings.Join(a.Prefixes, ", ")},
		{"suffixes", strings.Join(a.Suffixes, ", ")},
	}
	for _, k := range []string{store.KeyPlaylistURL, store.KeyCandidatesURL, store.KeyEPGURL} {
		v, _, err := st.Get(ctx, k)
		if err != nil {
			return err
		}
		rows = append(rows, []string{k, safeurl.RedactURL(v)})
	}
	fmt.Fprintln(out, renderTable([]column{textCol("Setting", 0), textCol("Value", urlWidth)}, rows, nil))
	return nil
}
