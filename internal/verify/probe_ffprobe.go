package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/plextuner/m3u-curator/internal/playlist"
	"github.com/plextuner/m3u-curator/internal/safeurl"
)

// FFProbeProber measures quality with ffprobe after a quick online check.
// A stream that is online but cannot be analysed is reported ok with the
// online check's quality.
type FFProbeProber struct {
	// Binary defaults to "ffprobe".
	Binary string
	// Online runs first; a failed result skips ffprobe.
	Online  Prober
	Timeout time.Duration
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		BitRate   string `json:"bit_rate"`
	} `json:"streams"`
}

// Probe only hands http(s) URLs to ffprobe; anything else (file:, concat:,
// a leading dash) fails without running it.
func (p *FFProbeProber) Probe(ctx context.Context, streamURL string) (Record, error) {
	if !safeurl.IsHTTPOrHTTPS(streamURL) {
		return Failed(), nil
	}
	online := OK(QualityFromURL(streamURL), "")
	if p.Online != nil {
		rec, err := p.Online.Probe(ctx, streamURL)
		if err != nil || rec.Status != playlist.StatusOK {
			return Failed(), err
		}
		online = rec
	}
	rec, err := p.inspect(ctx, streamURL)
	if err != nil {
		return online, nil
	}
	if rec.Quality == playlist.QualityUnknown {
		rec.Quality = online.Quality
	}
	return rec, nil
}

func (p *FFProbeProber) inspect(ctx context.Context, streamURL string) (Record, error) {
	binary := strings.TrimSpace(p.Binary)
	if binary == "" {
		binary = "ffprobe"
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "v:0",
		"-probesize", "5000000",
		"-analyzeduration", "5000000",
		streamURL)
	out, err := cmd.Output()
	if err != nil {
		return Record{}, fmt.Errorf("ffprobe: %w", err)
	}
	return parseFFProbe(out)
}

func parseFFProbe(out []byte) (Record, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return Record{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	if len(res.Streams) == 0 {
		return Record{}, errors.New("ffprobe: no video stream")
	}
	s := res.Streams[0]
	if s.Width > 0 && s.Height > 0 {
		return OK(ClassifyResolution(s.Width, s.Height), strconv.Itoa(s.Width)+"x"+strconv.Itoa(s.Height)), nil
	}
	bps, _ := strconv.ParseInt(s.BitRate, 10, 64)
	return OK(ClassifyBitrate(bps), ""), nil
}
