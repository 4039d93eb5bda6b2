// Package epglink reads guide channel lists and links playlist channels to
// them by name.
package epglink

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/plextuner/m3u-curator/internal/normalize"
	"github.com/plextuner/m3u-curator/internal/playlist"
)

// ErrNoSource is returned when matching is attempted without a loaded guide.
var ErrNoSource = errors.New("epglink: no EPG source loaded")

// Channel is one guide channel.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Logo string `json:"logo,omitempty"`
}

func (c Channel) SearchName() string { return c.Name }

type MatchMethod string

const (
	MatchNameExact      MatchMethod = "name_exact"
	MatchNameNormalized MatchMethod = "name_normalized"
	MatchNameCompact    MatchMethod = "name_compact"
)

type ChannelMatch struct {
	ChannelID   string      `json:"channel_id"`
	Name        string      `json:"name"`
	Matched     bool        `json:"matched"`
	MatchedID   string      `json:"matched_epg_id,omitempty"`
	MatchedLogo string      `json:"matched_logo,omitempty"`
	Method      MatchMethod `json:"method,omitempty"`
}

// Report covers the eligible (unassigned) channels of one matching run.
type Report struct {
	Eligible  int            `json:"eligible"`
	Matched   int            `json:"matched"`
	Unmatched int            `json:"unmatched"`
	Methods   map[string]int `json:"methods"`
	Rows      []ChannelMatch `json:"rows"`
}

// ParseXMLTV reads the <channel> elements of an XMLTV document. Each channel
// takes its first non-empty display-name and first icon; channels missing an
// id or a name are skipped. Programme data is ignored.
func ParseXMLTV(r io.Reader) ([]Channel, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	type icon struct {
		Src string `xml:"src,attr"`
	}
	type chNode struct {
		ID           string   `xml:"id,attr"`
		DisplayNames []string `xml:"display-name"`
		Icons        []icon   `xml:"icon"`
	}
	var out []Channel
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("xmltv: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "channel" {
			continue
		}
		var node chNode
		if err := dec.DecodeElement(&node, &se); err != nil {
			return nil, fmt.Errorf("xmltv: %w", err)
		}
		row := Channel{ID: strings.TrimSpace(node.ID)}
		for _, dn := range node.DisplayNames {
			if name := strings.TrimSpace(dn); name != "" {
				row.Name = name
				break
			}
		}
		if len(node.Icons) > 0 {
			row.Logo = strings.TrimSpace(node.Icons[0].Src)
		}
		if row.ID == "" || row.Name == "" {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// FromIDList builds a guide from a plain list of ids, one per line. Each id
// doubles as the name; the logo is <logoFolder>/<id>.png.
func FromIDList(r io.Reader, logoFolder string) ([]Channel, error) {
	folder := strings.TrimRight(strings.ReplaceAll(strings.TrimSpace(logoFolder), "$", ""), "/")
	var out []Channel
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		id := strings.TrimSpace(sc.Text())
		if id == "" {
			continue
		}
		ch := Channel{ID: id, Name: id}
		if folder != "" {
			ch.Logo = folder + "/" + id + ".png"
		}
		out = append(out, ch)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("id list: %w", err)
	}
	return out, nil
}

// IDSet returns the set of guide ids, for marking channels whose tvg-id
// resolves.
func IDSet(epg []Channel) map[string]struct{} {
	out := make(map[string]struct{}, len(epg))
	for _, c := range epg {
		out[c.ID] = struct{}{}
	}
	return out
}

// Filter is the plain (non-fuzzy) guide filter: case-insensitive substring of
// name or id. A blank term returns epg unchanged.
func Filter(epg []Channel, term string) []Channel {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return epg
	}
	var out []Channel
	for _, c := range epg {
		if strings.Contains(strings.ToLower(c.Name), term) || strings.Contains(strings.ToLower(c.ID), term) {
			out = append(out, c)
		}
	}
	return out
}

func exactKey(s string) string {
	return normalize.Lower(strings.TrimSpace(s))
}

func compactKey(s string) string {
	return normalize.Lower(normalize.Compact(s))
}

// index maps a key to the first guide entry (in source order) producing it.
type index map[string]Channel

func buildIndex(epg []Channel, key func(string) string) index {
	idx := make(index, len(epg))
	for _, c := range epg {
		k := key(c.Name)
		if k == "" {
			continue
		}
		if _, ok := idx[k]; !ok {
			idx[k] = c
		}
	}
	return idx
}

// Match links each unassigned channel (no tvg-id and no tvg-name) to a guide
// entry: case-insensitive name equality first, then equality after affix
// normalization, then equality with all whitespace removed. Channels that
// already carry either identifier are not eligible and do not appear in the
// report.
func Match(channels []playlist.Channel, epg []Channel, affixes normalize.Affixes) (Report, error) {
	if len(epg) == 0 {
		return Report{}, ErrNoSource
	}
	normKey := func(s string) string { return normalize.Lower(affixes.Normalize(s)) }
	stages := []struct {
		method MatchMethod
		key    func(string) string
		idx    index
	}{
		{method: MatchNameExact, key: exactKey},
		{method: MatchNameNormalized, key: normKey},
		{method: MatchNameCompact, key: compactKey},
	}
	for i := range stages {
		stages[i].idx = buildIndex(epg, stages[i].key)
	}

	rep := Report{Methods: map[string]int{}}
	for _, ch := range channels {
		if !ch.Unassigned() {
			continue
		}
		rep.Eligible++
		row := ChannelMatch{ChannelID: ch.ID, Name: ch.Name}
		for _, st := range stages {
			k := st.key(ch.Name)
			if k == "" {
				continue
			}
			if hit, ok := st.idx[k]; ok {
				row.Matched, row.MatchedID, row.MatchedLogo, row.Method = true, hit.ID, hit.Logo, st.method
				break
			}
		}
		if row.Matched {
			rep.Matched++
			rep.Methods[string(row.Method)]++
		}
		rep.Rows = append(rep.Rows, row)
	}
	rep.Unmatched = rep.Eligible - rep.Matched
	return rep, nil
}

// Apply writes the report's matches into channels in place: tvg-id always,
// tvg-logo when the guide entry has one. Channels that gained an identifier
// since the report was built are left alone. It returns the number changed.
func Apply(channels []playlist.Channel, rep Report) int {
	byChannelID := make(map[string]ChannelMatch, len(rep.Rows))
	for _, row := range rep.Rows {
		if row.Matched {
			byChannelID[row.ChannelID] = row
		}
	}
	applied := 0
	for i := range channels {
		ch := &channels[i]
		row, ok := byChannelID[ch.ID]
		if !ok || !ch.Unassigned() {
			continue
		}
		ch.TVGID = row.MatchedID
		if row.MatchedLogo != "" {
			ch.TVGLogo = row.MatchedLogo
		}
		applied++
	}
	return applied
}

// AutoAssign is Match followed by Apply.
func AutoAssign(channels []playlist.Channel, epg []Channel, affixes normalize.Affixes) (Report, error) {
	rep, err := Match(channels, epg, affixes)
	if err != nil {
		return rep, err
	}
	Apply(channels, rep)
	return rep, nil
}

func (r Report) UnmatchedRows() []ChannelMatch {
	out := make([]ChannelMatch, 0, r.Unmatched)
	for _, row := range r.Rows {
		if !row.Matched {
			out = append(out, row)
		}
	}
	return out
}

func (r Report) SummaryString() string {
	methods := make([]string, 0, len(r.Methods))
	for k := range r.Methods {
		methods = append(methods, k)
	}
	sort.Strings(methods)
	var b strings.Builder
	fmt.Fprintf(&b, "EPG matches: %d/%d (%.1f%%)", r.Matched, r.Eligible, pct(r.Matched, r.Eligible))
	if len(methods) > 0 {
		b.WriteString(" [")
		for i, k := range methods {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%d", k, r.Methods[k])
		}
		b.WriteString("]")
	}
	return b.String()
}

func pct(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) * 100 / float64(b)
}
