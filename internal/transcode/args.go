package transcode

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// mp4 track timescale shared by every clip so the concat demuxer sees
// identical stream parameters.
const videoTimescale = "90000"

func baseArgs() []string {
	return []string{"-hide_banner", "-nostdin", "-y", "-loglevel", "error"}
}

// seconds formats d for ffmpeg time options with millisecond precision.
func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// VideoFilter builds the -vf chain that letterboxes the source into the
// target frame, fixes the frame rate and pads short sources by cloning the
// last frame so -t can always cut at exactly the target duration.
func VideoFilter(spec TargetSpec, duration time.Duration, keepEffects bool) string {
	var parts []string
	if keepEffects && strings.TrimSpace(spec.Effects) != "" {
		parts = append(parts, strings.TrimSpace(spec.Effects))
	}
	w, h := spec.Width, spec.Height
	parts = append(parts,
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", w, h),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", w, h),
		"setsar=1",
		fmt.Sprintf("fps=%d", spec.FrameRate),
		fmt.Sprintf("tpad=stop_mode=clone:stop_duration=%s", seconds(duration)),
	)
	return strings.Join(parts, ",")
}

func channelLayout(channels int) string {
	if channels == 1 {
		return "mono"
	}
	return "stereo"
}

// NormalizeArgs returns the ffmpeg arguments for one per-segment normalize:
// a single input trimmed from offset 0 to exactly duration, re-encoded to
// spec with one video and one audio stream.
func NormalizeArgs(input, output string, duration time.Duration, spec TargetSpec, st Strategy) []string {
	args := baseArgs()
	args = append(args, "-i", input)

	if st.SilentAudio {
		args = append(args,
			"-f", "lavfi",
			"-i", fmt.Sprintf("anullsrc=channel_layout=%s:sample_rate=%d",
				channelLayout(spec.AudioChannels), spec.AudioSampleRate),
			"-map", "0:v:0", "-map", "1:a:0",
		)
	} else {
		args = append(args, "-map", "0:v:0", "-map", "0:a:0", "-af", "apad")
	}

	args = append(args,
		"-vf", VideoFilter(spec, duration, st.KeepEffects),
		"-t", seconds(duration),
		"-c:v", spec.VideoCodec,
		"-preset", st.preset(spec.Preset),
		"-crf", strconv.Itoa(st.quality(spec.Quality)),
		"-pix_fmt", spec.PixelFormat,
		"-r", strconv.Itoa(spec.FrameRate),
		"-g", strconv.Itoa(spec.FrameRate*2),
		"-c:a", spec.AudioCodec,
		"-b:a", spec.AudioBitrate,
		"-ar", strconv.Itoa(spec.AudioSampleRate),
		"-ac", strconv.Itoa(spec.AudioChannels),
		"-video_track_timescale", videoTimescale,
		"-movflags", "+faststart",
		output,
	)
	return args
}

// ConcatArgs returns the concat-demuxer invocation. -safe 0 is required
// because manifest paths are absolute. Both streams are copied.
func ConcatArgs(manifest, output string, fixTimestamps bool) []string {
	args := baseArgs()
	if fixTimestamps {
		args = append(args, "-fflags", "+genpts")
	}
	args = append(args,
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
		"-c:v", "copy",
		"-c:a", "copy",
	)
	if fixTimestamps {
		args = append(args, "-avoid_negative_ts", "make_zero")
	}
	args = append(args, "-movflags", "+faststart", output)
	return args
}

// SoundtrackArgs lays audio under the composed video. Video is copied,
// audio re-encoded to spec and the output ends with the shorter stream.
func SoundtrackArgs(video, audio, output string, spec TargetSpec) []string {
	args := baseArgs()
	return append(args,
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", spec.AudioCodec,
		"-b:a", spec.AudioBitrate,
		"-ar", strconv.Itoa(spec.AudioSampleRate),
		"-ac", strconv.Itoa(spec.AudioChannels),
		"-shortest",
		"-movflags", "+faststart",
		output,
	)
}

// ProbeArgs returns the single ffprobe JSON call used for stream discovery.
func ProbeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	}
}
