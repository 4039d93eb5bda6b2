package playlist

import (
	"strings"

	"github.com/google/uuid"
)

// Status is the transient verification state of a channel.
type Status string

const (
	StatusPending   Status = "pending"
	StatusVerifying Status = "verifying"
	StatusOK        Status = "ok"
	StatusFailed    Status = "failed"
)

// Quality is the resolution tier detected by verification.
type Quality string

const (
	QualitySD      Quality = "SD"
	QualityHD      Quality = "HD"
	QualityFHD     Quality = "FHD"
	Quality4K      Quality = "4K"
	QualityUnknown Quality = "unknown"
)

const (
	// ClearedURL replaces the URL of a channel whose stream failed verification
	// so the entry survives for later repair.
	ClearedURL = "http://--"
	// UnavailableURL is the placeholder stream for channels created from guide entries.
	UnavailableURL = "http://error-stream-not-available.invalid/stream.m3u8"
	// EPGGroup is the group-title given to channels created from guide entries.
	EPGGroup = "EPG Channels"
)

// Channel is one playlist entry. ID is session-local and never serialized.
type Channel struct {
	ID         string  `json:"id"`
	Order      int     `json:"order"`
	TVGID      string  `json:"tvg_id,omitempty"`
	TVGName    string  `json:"tvg_name,omitempty"`
	TVGLogo    string  `json:"tvg_logo,omitempty"`
	GroupTitle string  `json:"group_title,omitempty"`
	Name       string  `json:"name"`
	URL        string  `json:"url"`
	Status     Status  `json:"status"`
	Quality    Quality `json:"quality"`
	Resolution string  `json:"resolution,omitempty"`
}

// SearchName is the name used for matching.
func (c Channel) SearchName() string { return c.Name }

// Unassigned reports whether the channel carries neither a tvg-id nor a tvg-name.
func (c Channel) Unassigned() bool {
	return strings.TrimSpace(c.TVGID) == "" && strings.TrimSpace(c.TVGName) == ""
}

// NewID returns a fresh channel identifier.
func NewID() string {
	return uuid.NewString()
}

// New returns a pending channel with a fresh ID. Order is left for Reindex.
func New(name, streamURL string) Channel {
	return Channel{
		ID:      NewID(),
		Name:    name,
		URL:     streamURL,
		Status:  StatusPending,
		Quality: QualityUnknown,
	}
}

// Reindex rewrites Order to 1..n following slice position.
func Reindex(list []Channel) {
	for i := range list {
		list[i].Order = i + 1
	}
}

// Clone returns a copy of list that shares no backing array with it.
func Clone(list []Channel) []Channel {
	if list == nil {
		return nil
	}
	out := make([]Channel, len(list))
	copy(out, list)
	return out
}

// IndexOf returns the position of the channel with id, or -1.
func IndexOf(list []Channel, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// Groups returns the distinct non-empty group titles in first-seen order.
func Groups(list []Channel) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range list {
		if c.GroupTitle == "" {
			continue
		}
		if _, ok := seen[c.GroupTitle]; ok {
			continue
		}
		seen[c.GroupTitle] = struct{}{}
		out = append(out, c.GroupTitle)
	}
	return out
}

// Filter keeps channels in group (all groups when group is "") whose name
// contains query case-insensitively.
func Filter(list []Channel, group, query string) []Channel {
	q := strings.ToLower(query)
	var out []Channel
	for _, c := range list {
		if group != "" && c.GroupTitle != group {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(c.Name), q) {
			continue
		}
		out = append(out, c)
	}
	return out
}
