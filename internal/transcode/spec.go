package transcode

import (
	"errors"
	"fmt"
)

// TargetSpec is the encoding every clip of one run is forced into. Stream
// copy concatenation is only valid because all clips share it.
type TargetSpec struct {
	Width           int    `yaml:"width" json:"width"`
	Height          int    `yaml:"height" json:"height"`
	FrameRate       int    `yaml:"frame_rate" json:"frame_rate"`
	VideoCodec      string `yaml:"video_codec" json:"video_codec"`
	AudioCodec      string `yaml:"audio_codec" json:"audio_codec"`
	Quality         int    `yaml:"quality" json:"quality"` // CRF
	Preset          string `yaml:"preset" json:"preset"`
	PixelFormat     string `yaml:"pixel_format" json:"pixel_format"`
	AudioSampleRate int    `yaml:"audio_sample_rate" json:"audio_sample_rate"`
	AudioChannels   int    `yaml:"audio_channels" json:"audio_channels"`
	AudioBitrate    string `yaml:"audio_bitrate" json:"audio_bitrate"`

	// Effects is an optional ffmpeg filter chain applied before scaling.
	// Degraded strategies drop it.
	Effects string `yaml:"effects,omitempty" json:"effects,omitempty"`
}

const (
	DefaultVideoCodec      = "libx264"
	DefaultAudioCodec      = "aac"
	DefaultPreset          = "veryfast"
	DefaultPixelFormat     = "yuv420p"
	DefaultAudioSampleRate = 44100
	DefaultAudioChannels   = 2
	DefaultAudioBitrate    = "128k"
	DefaultQuality         = 23
	DefaultFrameRate       = 30
)

// WithDefaults fills zero-valued codec and audio fields.
func (s TargetSpec) WithDefaults() TargetSpec {
	if s.VideoCodec == "" {
		s.VideoCodec = DefaultVideoCodec
	}
	if s.AudioCodec == "" {
		s.AudioCodec = DefaultAudioCodec
	}
	if s.Preset == "" {
		s.Preset = DefaultPreset
	}
	if s.PixelFormat == "" {
		s.PixelFormat = DefaultPixelFormat
	}
	if s.AudioSampleRate == 0 {
		s.AudioSampleRate = DefaultAudioSampleRate
	}
	if s.AudioChannels == 0 {
		s.AudioChannels = DefaultAudioChannels
	}
	if s.AudioBitrate == "" {
		s.AudioBitrate = DefaultAudioBitrate
	}
	if s.Quality == 0 {
		s.Quality = DefaultQuality
	}
	if s.FrameRate == 0 {
		s.FrameRate = DefaultFrameRate
	}
	return s
}

// Validate checks the fields that have no sensible default.
func (s TargetSpec) Validate() error {
	var errs []error
	if s.Width <= 0 || s.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid resolution %dx%d", s.Width, s.Height))
	}
	// yuv420p needs even dimensions.
	if s.Width%2 != 0 || s.Height%2 != 0 {
		errs = append(errs, fmt.Errorf("resolution %dx%d must be even", s.Width, s.Height))
	}
	if s.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid frame rate %d", s.FrameRate))
	}
	if s.Quality < 0 || s.Quality > 51 {
		errs = append(errs, fmt.Errorf("quality %d out of range 0-51", s.Quality))
	}
	if s.AudioChannels < 0 || s.AudioChannels > 2 {
		errs = append(errs, fmt.Errorf("audio channels %d not supported", s.AudioChannels))
	}
	return errors.Join(errs...)
}

// RetryPolicy controls how hard the pipeline works to save a segment.
type RetryPolicy struct {
	// Degraded enables a second normalize attempt with a higher CRF and no
	// effect filters.
	Degraded            bool   `yaml:"degraded" json:"degraded"`
	DegradedQualityStep int    `yaml:"degraded_quality_step" json:"degraded_quality_step"`
	DegradedPreset      string `yaml:"degraded_preset,omitempty" json:"degraded_preset,omitempty"`

	// SilentAudioFallback replaces the source audio with generated silence
	// as a last resort for sources whose audio stream will not decode.
	SilentAudioFallback bool `yaml:"silent_audio_fallback" json:"silent_audio_fallback"`

	// FetchAttempts bounds tries for transient fetch failures.
	FetchAttempts int `yaml:"fetch_attempts" json:"fetch_attempts"`
}

// DefaultRetryPolicy is one degraded retry, silent-audio fallback and two
// fetch attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Degraded:            true,
		DegradedQualityStep: 5,
		SilentAudioFallback: true,
		FetchAttempts:       2,
	}
}

// Strategy is one set of normalize settings.
type Strategy struct {
	Name          string
	QualityOffset int
	Preset        string // empty keeps the target preset
	KeepEffects   bool
	SilentAudio   bool
}

const (
	StrategyPrimary     = "primary"
	StrategyDegraded    = "degraded"
	StrategySilentAudio = "silent-audio"
)

// Strategies expands the policy into the ordered list the normalizer tries.
// Sources without audio always use generated silence.
func (p RetryPolicy) Strategies(hasAudio bool) []Strategy {
	strategies := []Strategy{{
		Name:        StrategyPrimary,
		KeepEffects: true,
		SilentAudio: !hasAudio,
	}}

	var degradedOffset int
	var degradedPreset string
	if p.Degraded {
		degradedOffset = p.DegradedQualityStep
		degradedPreset = p.DegradedPreset
		strategies = append(strategies, Strategy{
			Name:          StrategyDegraded,
			QualityOffset: degradedOffset,
			Preset:        degradedPreset,
			SilentAudio:   !hasAudio,
		})
	}

	if p.SilentAudioFallback && hasAudio {
		strategies = append(strategies, Strategy{
			Name:          StrategySilentAudio,
			QualityOffset: degradedOffset,
			Preset:        degradedPreset,
			SilentAudio:   true,
		})
	}
	return strategies
}

// quality applies the strategy's CRF offset, clamped to the x264 range.
func (st Strategy) quality(base int) int {
	q := base + st.QualityOffset
	if q > 51 {
		q = 51
	}
	return q
}

func (st Strategy) preset(base string) string {
	if st.Preset != "" {
		return st.Preset
	}
	return base
}
