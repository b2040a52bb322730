package capture

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

type probeData struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		NbFrames     string `json:"nb_frames"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// VideoInfo is what the pipeline needs to know about a video before decoding.
type VideoInfo struct {
	Width       int
	Height      int
	FPS         float64
	TotalFrames int
}

func ProbeVideo(path string) (VideoInfo, error) {
	out, err := ffmpeg.Probe(path)
	if err != nil {
		return VideoInfo{}, errors.Wrap(err, "ffprobe")
	}
	return parseProbe(out)
}

func parseProbe(out string) (VideoInfo, error) {
	var data probeData
	if err := json.Unmarshal([]byte(out), &data); err != nil {
		return VideoInfo{}, errors.Wrap(err, "decode ffprobe output")
	}

	for _, s := range data.Streams {
		if s.CodecType != "" && s.CodecType != "video" {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			continue
		}

		info := VideoInfo{Width: s.Width, Height: s.Height}

		info.FPS = parseRate(s.RFrameRate)
		if info.FPS == 0 {
			info.FPS = parseRate(s.AvgFrameRate)
		}

		if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
			info.TotalFrames = n
		} else if info.FPS > 0 {
			dur := parseFloat(s.Duration)
			if dur == 0 {
				dur = parseFloat(data.Format.Duration)
			}
			info.TotalFrames = int(math.Round(dur * info.FPS))
		}

		return info, nil
	}

	return VideoInfo{}, errors.New("no video streams found")
}

// parseRate reads ffprobe rates such as "30000/1001". Unknown rates give 0.
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	if !found {
		return parseFloat(s)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}
