package playlist

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

const maxLineSize = 1 << 20 // 1 MiB per line

// ErrInvalidFormat is returned when the first line is not an #EXTM3U header.
var ErrInvalidFormat = errors.New("playlist: invalid format: must start with #EXTM3U")

// ParseError reports a fatal parse failure and the line it happened on.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("playlist: line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Header holds the key="value" attributes of the #EXTM3U line (url-tvg, x-tvg-url, ...).
type Header struct {
	Attrs map[string]string
}

// Parse parses M3U text into channels.
func Parse(text string) ([]Channel, error) {
	_, channels, err := ParseWithHeader(strings.NewReader(text))
	return channels, err
}

// ParseReader parses M3U from r in a streaming fashion.
func ParseReader(r io.Reader) ([]Channel, error) {
	_, channels, err := ParseWithHeader(r)
	return channels, err
}

// ParseWithHeader parses M3U from r and also returns the header attributes.
// Entries without a stream URL before the next #EXTINF, or with an empty
// display name, are skipped. Only a missing header is fatal.
func ParseWithHeader(r io.Reader) (Header, []Channel, error) {
	ls := &lineSplitter{max: maxLineSize}
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, maxLineSize)
	sc.Split(ls.split)

	var h Header
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return h, nil, err
		}
		return h, nil, &ParseError{Line: 1, Err: ErrInvalidFormat}
	}
	first := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
	if !strings.HasPrefix(first, "#EXTM3U") {
		return h, nil, &ParseError{Line: 1, Err: ErrInvalidFormat}
	}
	h.Attrs = parseAttrs(strings.TrimPrefix(first, "#EXTM3U"))

	var out []Channel
	var info string
	pending := false
	for sc.Scan() {
		if ls.takeOverlong() {
			// Whatever entry the line belonged to is lost.
			pending = false
			continue
		}
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "#EXTINF:"):
			// A previous #EXTINF still waiting for its URL is dropped here.
			info = line[len("#EXTINF:"):]
			pending = true
		case line == "" || strings.HasPrefix(line, "#"):
		case pending:
			pending = false
			if ch, ok := entryFromEXTINF(info, line); ok {
				ch.Order = len(out) + 1
				out = append(out, ch)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return h, nil, err
	}
	return h, out, nil
}

func entryFromEXTINF(info, streamURL string) (Channel, bool) {
	name := info
	if i := strings.LastIndex(info, ","); i >= 0 {
		name = info[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Channel{}, false
	}
	ch := New(name, streamURL)
	ch.TVGID = attrValue(info, "tvg-id")
	ch.TVGName = attrValue(info, "tvg-name")
	ch.TVGLogo = attrValue(info, "tvg-logo")
	ch.GroupTitle = attrValue(info, "group-title")
	return ch, true
}

// attrValue returns the value of key="..." in s. The key must not be the tail
// of a longer attribute name (x-tvg-id does not match tvg-id).
func attrValue(s, key string) string {
	prefix := key + `="`
	off := 0
	for {
		i := strings.Index(s[off:], prefix)
		if i < 0 {
			return ""
		}
		i += off
		if i == 0 || !isAttrNameByte(s[i-1]) {
			start := i + len(prefix)
			if j := strings.IndexByte(s[start:], '"'); j >= 0 {
				return s[start : start+j]
			}
			return s[start:]
		}
		off = i + len(prefix)
	}
}

func isAttrNameByte(b byte) bool {
	return b == '-' || b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// parseAttrs collects every key="value" pair in s.
func parseAttrs(s string) map[string]string {
	out := map[string]string{}
	rest := s
	for {
		eq := strings.Index(rest, `="`)
		if eq < 0 {
			break
		}
		key := rest[:eq]
		if k := strings.LastIndexAny(key, " \t"); k >= 0 {
			key = key[k+1:]
		}
		rest = rest[eq+2:]
		end := strings.IndexByte(rest, '"')
		if end < 0 {
			if key != "" {
				out[key] = rest
			}
			break
		}
		if key != "" {
			out[key] = rest[:end]
		}
		rest = rest[end+1:]
	}
	return out
}

// lineSplitter wraps scanLines so that a line longer than max (an inline
// base64 logo, say) is skipped instead of ending the scan with
// bufio.ErrTooLong. The skipped line comes out as an empty token with
// overlong set.
type lineSplitter struct {
	max      int
	skipping bool
	overlong bool
}

func (l *lineSplitter) split(data []byte, atEOF bool) (int, []byte, error) {
	if l.skipping {
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 && !atEOF {
			return len(data), nil, nil
		}
		l.skipping, l.overlong = false, true
		if i < 0 {
			return len(data), []byte{}, nil
		}
		return i + 1, []byte{}, nil
	}
	advance, token, err := scanLines(data, atEOF)
	if advance == 0 && token == nil && err == nil && len(data) >= l.max {
		l.skipping = true
		return len(data), nil, nil
	}
	return advance, token, err
}

// takeOverlong reports and clears whether the last token was a skipped line.
func (l *lineSplitter) takeOverlong() bool {
	v := l.overlong
	l.overlong = false
	return v
}

// scanLines splits on \n, \r\n and a bare \r.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if !atEOF {
			return 0, nil, nil
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Serialize renders channels as M3U text in Order sequence.
func Serialize(channels []Channel) string {
	var b strings.Builder
	_ = Write(&b, Header{}, channels)
	return b.String()
}

// Write renders the header line and channels to w. Empty attributes are omitted.
func Write(w io.Writer, h Header, channels []Channel) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("#EXTM3U")
	keys := make([]string, 0, len(h.Attrs))
	for k := range h.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := h.Attrs[k]; v != "" {
			fmt.Fprintf(bw, ` %s="%s"`, k, v)
		}
	}
	bw.WriteByte('\n')

	ordered := Clone(channels)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })
	for _, c := range ordered {
		bw.WriteString("#EXTINF:-1")
		writeAttr(bw, "tvg-id", c.TVGID)
		writeAttr(bw, "tvg-name", c.TVGName)
		writeAttr(bw, "tvg-logo", c.TVGLogo)
		writeAttr(bw, "group-title", c.GroupTitle)
		bw.WriteByte(',')
		bw.WriteString(c.Name)
		bw.WriteByte('\n')
		bw.WriteString(c.URL)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func writeAttr(w *bufio.Writer, key, value string) {
	if value == "" {
		return
	}
	w.WriteByte(' ')
	w.WriteString(key)
	w.WriteString(`="`)
	w.WriteString(value)
	w.WriteByte('"')
}
