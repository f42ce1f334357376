// Package config provides configuration management for the Heimdex Composer.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort     = 8790
	DefaultLogLevel = "info"
	DefaultDBPath   = ":memory:"
	DefaultPreset   = "standard"

	// Pipeline defaults
	DefaultBatchSize         = 3
	DefaultMaxBatchSize      = 8
	DefaultSegmentDuration   = 5 * time.Second
	DefaultFetchTimeout      = 60 * time.Second
	DefaultFetchMaxBytes     = 200 * 1024 * 1024 // 200MB
	DefaultNormalizeTimeout  = 120 * time.Second
	DefaultConcatTimeout     = 300 * time.Second
	DefaultMaxConcurrentRuns = 2
	DefaultMinFreeBytes      = 1024 * 1024 * 1024 // 1GB
	DefaultFFmpegPath        = "ffmpeg"
	DefaultFFprobePath       = "ffprobe"

	// Environment variable names
	EnvPort              = "COMPOSER_PORT"
	EnvLogLevel          = "COMPOSER_LOG_LEVEL"
	EnvScratchDir        = "COMPOSER_SCRATCH_DIR"
	EnvDBPath            = "COMPOSER_DB_PATH"
	EnvBatchSize         = "COMPOSER_BATCH_SIZE"
	EnvMaxBatchSize      = "COMPOSER_MAX_BATCH_SIZE"
	EnvMaxSegments       = "COMPOSER_MAX_SEGMENTS"
	EnvSegmentDuration   = "COMPOSER_SEGMENT_DURATION"
	EnvFetchTimeout      = "COMPOSER_FETCH_TIMEOUT"
	EnvFetchMaxBytes     = "COMPOSER_FETCH_MAX_BYTES"
	EnvNormalizeTimeout  = "COMPOSER_NORMALIZE_TIMEOUT"
	EnvConcatTimeout     = "COMPOSER_CONCAT_TIMEOUT"
	EnvFFmpegPath        = "COMPOSER_FFMPEG_PATH"
	EnvFFprobePath       = "COMPOSER_FFPROBE_PATH"
	EnvPresetsFile       = "COMPOSER_PRESETS_FILE"
	EnvDefaultPreset     = "COMPOSER_DEFAULT_PRESET"
	EnvAuthToken         = "COMPOSER_AUTH_TOKEN"
	EnvMaxConcurrentRuns = "COMPOSER_MAX_CONCURRENT_RUNS"
	EnvMinFreeBytes      = "COMPOSER_MIN_FREE_BYTES"

	scratchDirName = "heimdex-composer"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	ScratchDir() string
	DBPath() string
	BatchSize() int
	MaxBatchSize() int
	MaxSegments() int
	SegmentDuration() time.Duration
	FetchTimeout() time.Duration
	FetchMaxBytes() int64
	NormalizeTimeout() time.Duration
	ConcatTimeout() time.Duration
	FFmpegPath() string
	FFprobePath() string
	PresetsFile() string
	DefaultPreset() string
	AuthToken() string
	MaxConcurrentRuns() int
	MinFreeBytes() uint64
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port       int
	logLevel   string
	scratchDir string
	dbPath     string

	batchSize       int
	maxBatchSize    int
	maxSegments     int
	segmentDuration time.Duration

	fetchTimeout     time.Duration
	fetchMaxBytes    int64
	normalizeTimeout time.Duration
	concatTimeout    time.Duration

	ffmpegPath    string
	ffprobePath   string
	presetsFile   string
	defaultPreset string
	authToken     string

	maxConcurrentRuns int
	minFreeBytes      uint64
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:              DefaultPort,
		logLevel:          DefaultLogLevel,
		scratchDir:        filepath.Join(os.TempDir(), scratchDirName),
		dbPath:            DefaultDBPath,
		batchSize:         DefaultBatchSize,
		maxBatchSize:      DefaultMaxBatchSize,
		segmentDuration:   DefaultSegmentDuration,
		fetchTimeout:      DefaultFetchTimeout,
		fetchMaxBytes:     DefaultFetchMaxBytes,
		normalizeTimeout:  DefaultNormalizeTimeout,
		concatTimeout:     DefaultConcatTimeout,
		ffmpegPath:        DefaultFFmpegPath,
		ffprobePath:       DefaultFFprobePath,
		defaultPreset:     DefaultPreset,
		maxConcurrentRuns: DefaultMaxConcurrentRuns,
		minFreeBytes:      DefaultMinFreeBytes,
	}

	var err error

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}
	if sd := os.Getenv(EnvScratchDir); sd != "" {
		cfg.scratchDir = sd
	}
	if db := os.Getenv(EnvDBPath); db != "" {
		cfg.dbPath = db
	}

	if cfg.batchSize, err = positiveInt(EnvBatchSize, cfg.batchSize); err != nil {
		return nil, err
	}
	if cfg.maxBatchSize, err = positiveInt(EnvMaxBatchSize, cfg.maxBatchSize); err != nil {
		return nil, err
	}
	if cfg.batchSize > cfg.maxBatchSize {
		return nil, fmt.Errorf("invalid %s: %d exceeds %s (%d)", EnvBatchSize, cfg.batchSize, EnvMaxBatchSize, cfg.maxBatchSize)
	}
	if cfg.maxConcurrentRuns, err = positiveInt(EnvMaxConcurrentRuns, cfg.maxConcurrentRuns); err != nil {
		return nil, err
	}

	// 0 means unlimited
	if ms := os.Getenv(EnvMaxSegments); ms != "" {
		n, err := strconv.Atoi(ms)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid %s: must be a non-negative integer", EnvMaxSegments)
		}
		cfg.maxSegments = n
	}

	if cfg.segmentDuration, err = positiveDuration(EnvSegmentDuration, cfg.segmentDuration); err != nil {
		return nil, err
	}
	if cfg.fetchTimeout, err = positiveDuration(EnvFetchTimeout, cfg.fetchTimeout); err != nil {
		return nil, err
	}
	if cfg.normalizeTimeout, err = positiveDuration(EnvNormalizeTimeout, cfg.normalizeTimeout); err != nil {
		return nil, err
	}
	if cfg.concatTimeout, err = positiveDuration(EnvConcatTimeout, cfg.concatTimeout); err != nil {
		return nil, err
	}

	if mb := os.Getenv(EnvFetchMaxBytes); mb != "" {
		n, err := strconv.ParseInt(mb, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive byte count", EnvFetchMaxBytes)
		}
		cfg.fetchMaxBytes = n
	}
	if fb := os.Getenv(EnvMinFreeBytes); fb != "" {
		n, err := strconv.ParseUint(fb, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvMinFreeBytes, err)
		}
		cfg.minFreeBytes = n
	}

	if p := os.Getenv(EnvFFmpegPath); p != "" {
		cfg.ffmpegPath = p
	}
	if p := os.Getenv(EnvFFprobePath); p != "" {
		cfg.ffprobePath = p
	}
	cfg.presetsFile = os.Getenv(EnvPresetsFile)
	if dp := os.Getenv(EnvDefaultPreset); dp != "" {
		cfg.defaultPreset = dp
	}
	cfg.authToken = os.Getenv(EnvAuthToken)

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// ScratchDir returns the shared scratch directory for pipeline runs
func (c *EnvConfig) ScratchDir() string {
	return c.scratchDir
}

// DBPath returns the run ledger database path. ":memory:" keeps nothing on disk.
func (c *EnvConfig) DBPath() string {
	return c.dbPath
}

func (c *EnvConfig) BatchSize() int {
	return c.batchSize
}

func (c *EnvConfig) MaxBatchSize() int {
	return c.maxBatchSize
}

// MaxSegments returns the timeline length cap; 0 disables it.
func (c *EnvConfig) MaxSegments() int {
	return c.maxSegments
}

func (c *EnvConfig) SegmentDuration() time.Duration {
	return c.segmentDuration
}

func (c *EnvConfig) FetchTimeout() time.Duration {
	return c.fetchTimeout
}

func (c *EnvConfig) FetchMaxBytes() int64 {
	return c.fetchMaxBytes
}

func (c *EnvConfig) NormalizeTimeout() time.Duration {
	return c.normalizeTimeout
}

func (c *EnvConfig) ConcatTimeout() time.Duration {
	return c.concatTimeout
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) PresetsFile() string {
	return c.presetsFile
}

func (c *EnvConfig) DefaultPreset() string {
	return c.defaultPreset
}

// AuthToken returns the bearer token required by the API; empty disables auth.
func (c *EnvConfig) AuthToken() string {
	return c.authToken
}

func (c *EnvConfig) MaxConcurrentRuns() int {
	return c.maxConcurrentRuns
}

func (c *EnvConfig) MinFreeBytes() uint64 {
	return c.minFreeBytes
}

func positiveInt(env string, def int) (int, error) {
	v := os.Getenv(env)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", env, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid %s: must be at least 1", env)
	}
	return n, nil
}

// positiveDuration accepts Go duration strings ("90s") or bare seconds ("90").
func positiveDuration(env string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(env)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		secs, serr := strconv.Atoi(v)
		if serr != nil {
			return 0, fmt.Errorf("invalid %s: %w", env, err)
		}
		d = time.Duration(secs) * time.Second
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", env)
	}
	return d, nil
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
