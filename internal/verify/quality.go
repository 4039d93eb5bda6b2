package verify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/plextuner/m3u-curator/internal/playlist"
)

// ClassifyResolution maps frame dimensions to a quality tier. Any known but
// small frame is SD; zero dimensions are unknown.
func ClassifyResolution(width, height int) playlist.Quality {
	switch {
	case height >= 2160 || width >= 3840:
		return playlist.Quality4K
	case height >= 1080 || width >= 1920:
		return playlist.QualityFHD
	case height >= 720 || width >= 1280:
		return playlist.QualityHD
	case height > 0 || width > 0:
		return playlist.QualitySD
	}
	return playlist.QualityUnknown
}

// ClassifyBitrate maps a stream bitrate in bits per second to a quality tier.
func ClassifyBitrate(bps int64) playlist.Quality {
	switch {
	case bps >= 20_000_000:
		return playlist.Quality4K
	case bps >= 8_000_000:
		return playlist.QualityFHD
	case bps >= 3_000_000:
		return playlist.QualityHD
	case bps >= 1_000_000:
		return playlist.QualitySD
	}
	return playlist.QualityUnknown
}

var urlQualityPatterns = []struct {
	re *regexp.Regexp
	q  playlist.Quality
}{
	{regexp.MustCompile(`\b(4k|2160p?|uhd|ultra)\b`), playlist.Quality4K},
	{regexp.MustCompile(`\b(1080p?|fhd|fullhd|full.?hd)\b`), playlist.QualityFHD},
	{regexp.MustCompile(`\b(720p?|hd)\b`), playlist.QualityHD},
	{regexp.MustCompile(`\b(480p?|sd|360p?|240p?)\b`), playlist.QualitySD},
}

// QualityFromURL guesses a tier from tokens such as "1080p" or "uhd" in the URL.
func QualityFromURL(u string) playlist.Quality {
	lower := strings.ToLower(u)
	for _, p := range urlQualityPatterns {
		if p.re.MatchString(lower) {
			return p.q
		}
	}
	return playlist.QualityUnknown
}

// Variant is one #EXT-X-STREAM-INF entry of an HLS master playlist.
type Variant struct {
	Width, Height int
	Bandwidth     int64
	Codecs        string
}

func (v Variant) Resolution() string {
	if v.Width == 0 || v.Height == 0 {
		return ""
	}
	return strconv.Itoa(v.Width) + "x" + strconv.Itoa(v.Height)
}

// BestVariant picks the tallest variant, breaking ties by bandwidth.
func BestVariant(vs []Variant) (Variant, bool) {
	if len(vs) == 0 {
		return Variant{}, false
	}
	best := vs[0]
	for _, v := range vs[1:] {
		if v.Height > best.Height || (v.Height == best.Height && v.Bandwidth > best.Bandwidth) {
			best = v
		}
	}
	return best, true
}

// RecordForVariant classifies v by resolution, then bandwidth.
func RecordForVariant(v Variant) Record {
	if v.Width > 0 && v.Height > 0 {
		return OK(ClassifyResolution(v.Width, v.Height), v.Resolution())
	}
	if v.Bandwidth > 0 {
		return OK(ClassifyBitrate(v.Bandwidth), "")
	}
	return OK(playlist.QualityUnknown, "")
}

// parseStreamInf reads RESOLUTION, BANDWIDTH and CODECS from an
// #EXT-X-STREAM-INF attribute list.
func parseStreamInf(attrs string) Variant {
	var v Variant
	for _, kv := range splitAttrList(attrs) {
		k, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		val = strings.Trim(val, `"`)
		switch strings.ToUpper(strings.TrimSpace(k)) {
		case "RESOLUTION":
			w, h, ok := strings.Cut(strings.ToLower(val), "x")
			if ok {
				v.Width, _ = strconv.Atoi(w)
				v.Height, _ = strconv.Atoi(h)
			}
		case "BANDWIDTH":
			v.Bandwidth, _ = strconv.ParseInt(val, 10, 64)
		case "CODECS":
			v.Codecs = val
		}
	}
	return v
}

// splitAttrList splits on commas outside quoted strings.
func splitAttrList(s string) []string {
	var out []string
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}
