package transcode

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// Capabilities is what the local ffmpeg install can do.
type Capabilities struct {
	FFmpegVersion  string    `json:"ffmpeg_version"`
	FFprobeVersion string    `json:"ffprobe_version"`
	Encoders       []string  `json:"-"`
	Missing        []string  `json:"missing,omitempty"`
	ProbedAt       time.Time `json:"probed_at"`
}

// Ready reports whether both binaries ran and every required encoder exists.
func (c *Capabilities) Ready() bool {
	return c.FFmpegVersion != "" && c.FFprobeVersion != "" && len(c.Missing) == 0
}

// HasEncoder reports whether ffmpeg lists name among its encoders.
func (c *Capabilities) HasEncoder(name string) bool {
	for _, e := range c.Encoders {
		if e == name {
			return true
		}
	}
	return false
}

// Doctor inspects the ffmpeg and ffprobe binaries.
type Doctor struct {
	runner   Runner
	ffmpeg   string
	ffprobe  string
	required []string
	timeout  time.Duration
}

// NewDoctor creates a doctor that requires the given encoders.
func NewDoctor(runner Runner, ffmpegPath, ffprobePath string, required ...string) *Doctor {
	return &Doctor{
		runner:   runner,
		ffmpeg:   ffmpegPath,
		ffprobe:  ffprobePath,
		required: required,
		timeout:  10 * time.Second,
	}
}

// RunDoctor probes versions and encoders. It only errors when ffmpeg itself
// cannot be executed.
func (d *Doctor) RunDoctor(ctx context.Context) (*Capabilities, error) {
	res := d.runner.Run(ctx, d.timeout, d.ffmpeg, "-hide_banner", "-version")
	if !res.IsSuccess() {
		return nil, fmt.Errorf("ffmpeg not usable: %w", newProcessError("ffmpeg -version", res))
	}
	caps := &Capabilities{
		FFmpegVersion: parseVersion(res.Stdout, "ffmpeg"),
		ProbedAt:      time.Now(),
	}

	if pres := d.runner.Run(ctx, d.timeout, d.ffprobe, "-hide_banner", "-version"); pres.IsSuccess() {
		caps.FFprobeVersion = parseVersion(pres.Stdout, "ffprobe")
	} else {
		caps.Missing = append(caps.Missing, "ffprobe")
	}

	if eres := d.runner.Run(ctx, d.timeout, d.ffmpeg, "-hide_banner", "-encoders"); eres.IsSuccess() {
		caps.Encoders = parseEncoders(eres.Stdout)
	}
	for _, name := range d.required {
		if !caps.HasEncoder(name) {
			caps.Missing = append(caps.Missing, name)
		}
	}
	return caps, nil
}

// parseVersion reads "ffmpeg version 6.1.1 Copyright ..." style first lines.
func parseVersion(out []byte, tool string) string {
	line, _, _ := strings.Cut(string(out), "\n")
	fields := strings.Fields(line)
	if len(fields) >= 3 && fields[0] == tool && fields[1] == "version" {
		return fields[2]
	}
	if len(fields) > 0 {
		return "unknown"
	}
	return ""
}

// parseEncoders reads the table printed by `ffmpeg -encoders`, whose rows
// look like " V....D libx264   libx264 H.264 / AVC ...".
func parseEncoders(out []byte) []string {
	var encoders []string
	inTable := false
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "------") {
			inTable = true
			continue
		}
		if !inTable {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		encoders = append(encoders, fields[1])
	}
	return encoders
}

// DoctorProber is satisfied by Doctor and by test fakes.
type DoctorProber interface {
	RunDoctor(ctx context.Context) (*Capabilities, error)
}

// CachedDoctor caches doctor results with a TTL so health checks do not
// spawn processes on every request.
type CachedDoctor struct {
	prober DoctorProber
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(prober DoctorProber, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe. A failed probe falls back to the stale cache.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.RunDoctor(ctx)
	if err != nil {
		d.logger.Warn("doctor probe failed", "error", err)
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	if len(caps.Missing) > 0 {
		d.logger.Warn("transcoder missing capabilities", "missing", caps.Missing)
	}
	d.cached = caps
	return caps, nil
}
