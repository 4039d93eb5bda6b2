package epglink

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// IPTVOrgChannelsURL is the community channel list whose ids match the
// iptv-org and epg.pw XMLTV guides.
const IPTVOrgChannelsURL = "https://iptv-org.github.io/api/channels.json"

type iptvOrgChannel struct {
	ID       string `json:"id"` // e.g. "cnn.us"
	Name     string `json:"name"`
	Logo     string `json:"logo"`
	Country  string `json:"country"`
	IsNSFW   bool   `json:"is_nsfw"`
	Closed   string `json:"closed"`
	Replaced string `json:"replaced_by"`
}

// IPTVOrgFilter narrows ParseIPTVOrg. Countries are ISO 3166-1 alpha-2 codes
// compared case-insensitively; empty keeps every country.
type IPTVOrgFilter struct {
	Countries []string
	NSFW      bool // keep adult channels
	Closed    bool // keep closed or replaced channels
}

// ParseIPTVOrg reads an iptv-org channels.json array as a guide source.
// Entries keep array order; those without id or name are skipped.
func ParseIPTVOrg(r io.Reader, f IPTVOrgFilter) ([]Channel, error) {
	countries := make(map[string]struct{}, len(f.Countries))
	for _, c := range f.Countries {
		countries[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("iptv-org: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("iptv-org: expected a JSON array")
	}
	var out []Channel
	for dec.More() {
		var rec iptvOrgChannel
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("iptv-org: %w", err)
		}
		if rec.ID == "" || strings.TrimSpace(rec.Name) == "" {
			continue
		}
		if rec.IsNSFW && !f.NSFW {
			continue
		}
		if (rec.Closed != "" || rec.Replaced != "") && !f.Closed {
			continue
		}
		if len(countries) > 0 {
			if _, ok := countries[strings.ToUpper(rec.Country)]; !ok {
				continue
			}
		}
		out = append(out, Channel{ID: rec.ID, Name: strings.TrimSpace(rec.Name), Logo: rec.Logo})
	}
	return out, nil
}
