// Package timeline holds the composition input model: an ordered list of
// remote segments, the two request shapes that produce it, and the batch
// partitioning used to bound per-run resource usage.
package timeline

import (
	"sort"
	"strings"
	"time"
)

// Segment is one source clip plus its placement in the timeline. Segments are
// treated as immutable once a run has started.
type Segment struct {
	Ordinal        int
	Source         string
	StartOffset    time.Duration
	TargetDuration time.Duration
}

// Timeline is a sequence of segments in presentation order.
type Timeline struct {
	Segments []Segment

	// Soundtrack is an optional audio URL laid over the composed output.
	Soundtrack string

	// Ignored lists track types present in the request that the composer
	// does not render (captions, subtitles).
	Ignored []string
}

func (t Timeline) Len() int {
	return len(t.Segments)
}

func (t Timeline) Empty() bool {
	return len(t.Segments) == 0
}

// TotalDuration sums the target durations of every segment.
func (t Timeline) TotalDuration() time.Duration {
	var d time.Duration
	for _, s := range t.Segments {
		d += s.TargetDuration
	}
	return d
}

const (
	TrackVideo    = "video"
	TrackAudio    = "audio"
	TrackCaption  = "caption"
	TrackSubtitle = "subtitle"
)

// Track is one lane of the track/keyframe request shape.
type Track struct {
	Type      string     `json:"type"`
	Keyframes []Keyframe `json:"keyframes"`
}

// Keyframe places a source URL on a track. Times are in milliseconds.
type Keyframe struct {
	URL        string `json:"url"`
	Timestamp  int64  `json:"timestamp"`
	DurationMs int64  `json:"duration"`
}

// FromTracks flattens video tracks into a timeline ordered by keyframe
// timestamp. Keyframes without a duration use defaultDuration. The first
// audio keyframe becomes the soundtrack.
func FromTracks(tracks []Track, defaultDuration time.Duration) Timeline {
	var tl Timeline

	type placed struct {
		kf    Keyframe
		track int
		index int
	}
	var frames []placed

	for ti, tr := range tracks {
		switch strings.ToLower(strings.TrimSpace(tr.Type)) {
		case TrackVideo, "":
			for ki, kf := range tr.Keyframes {
				if strings.TrimSpace(kf.URL) == "" {
					continue
				}
				frames = append(frames, placed{kf: kf, track: ti, index: ki})
			}
		case TrackAudio:
			if tl.Soundtrack != "" {
				continue
			}
			for _, kf := range tr.Keyframes {
				if u := strings.TrimSpace(kf.URL); u != "" {
					tl.Soundtrack = u
					break
				}
			}
		default:
			tl.Ignored = append(tl.Ignored, tr.Type)
		}
	}

	// Stable on equal timestamps so request order breaks ties.
	sort.SliceStable(frames, func(i, j int) bool {
		return frames[i].kf.Timestamp < frames[j].kf.Timestamp
	})

	tl.Segments = make([]Segment, 0, len(frames))
	for i, f := range frames {
		dur := time.Duration(f.kf.DurationMs) * time.Millisecond
		if dur <= 0 {
			dur = defaultDuration
		}
		offset := time.Duration(f.kf.Timestamp) * time.Millisecond
		if offset < 0 {
			offset = 0
		}
		tl.Segments = append(tl.Segments, Segment{
			Ordinal:        i,
			Source:         strings.TrimSpace(f.kf.URL),
			StartOffset:    offset,
			TargetDuration: dur,
		})
	}
	return tl
}

// FromURLs builds a timeline from a flat URL list: each URL plays for
// duration, back to back.
func FromURLs(urls []string, duration time.Duration) Timeline {
	tl := Timeline{Segments: make([]Segment, 0, len(urls))}
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		n := len(tl.Segments)
		tl.Segments = append(tl.Segments, Segment{
			Ordinal:        n,
			Source:         u,
			StartOffset:    time.Duration(n) * duration,
			TargetDuration: duration,
		})
	}
	return tl
}
