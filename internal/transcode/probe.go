package transcode

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ProbeResult is the subset of ffprobe output the composer acts on.
type ProbeResult struct {
	FormatName string
	Duration   float64 // seconds

	HasVideo   bool
	Width      int
	Height     int
	VideoCodec string
	FrameRate  float64

	HasAudio        bool
	AudioCodec      string
	AudioSampleRate int
	AudioChannels   int
}

// Prober runs ffprobe through a Runner.
type Prober struct {
	runner  Runner
	binary  string
	timeout time.Duration
}

func NewProber(runner Runner, binary string, timeout time.Duration) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{runner: runner, binary: binary, timeout: timeout}
}

// Probe runs a single ffprobe JSON call against path.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	res := p.runner.Run(ctx, p.timeout, p.binary, ProbeArgs(path)...)
	if !res.IsSuccess() {
		return nil, newProcessError("ffprobe", res)
	}
	return ParseProbe(res.Stdout)
}

// ParseProbe converts raw ffprobe JSON into a ProbeResult.
func ParseProbe(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	pr := &ProbeResult{
		FormatName: raw.Format.FormatName,
		Duration:   parseFloat(raw.Format.Duration),
	}
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if pr.HasVideo || s.Disposition["attached_pic"] == 1 {
				continue
			}
			pr.HasVideo = true
			pr.Width = s.Width
			pr.Height = s.Height
			pr.VideoCodec = s.CodecName
			pr.FrameRate = parseRate(s.AvgFrameRate)
		case "audio":
			if pr.HasAudio {
				continue
			}
			pr.HasAudio = true
			pr.AudioCodec = s.CodecName
			pr.AudioSampleRate, _ = strconv.Atoi(s.SampleRate)
			pr.AudioChannels = s.Channels
		}
	}
	return pr, nil
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type ffprobeStream struct {
	CodecName    string         `json:"codec_name"`
	CodecType    string         `json:"codec_type"`
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	AvgFrameRate string         `json:"avg_frame_rate"`
	SampleRate   string         `json:"sample_rate"`
	Channels     int            `json:"channels"`
	Disposition  map[string]int `json:"disposition"`
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// parseRate reads ffprobe's "num/den" rational.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseFloat(s)
	}
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return parseFloat(num) / d
}
