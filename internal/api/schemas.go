package api

import (
	"time"

	"github.com/heimdex/heimdex-composer/internal/compose"
	"github.com/heimdex/heimdex-composer/internal/presets"
	"github.com/heimdex/heimdex-composer/internal/runs"
	"github.com/heimdex/heimdex-composer/internal/timeline"
	"github.com/heimdex/heimdex-composer/internal/transcode"
)

type HealthResponse struct {
	Status   string          `json:"status"`
	Version  string          `json:"version"`
	UptimeS  int64           `json:"uptime_s"`
	Database string          `json:"database,omitempty"`
	FFmpeg   *FFmpegResponse `json:"ffmpeg,omitempty"`
}

type FFmpegResponse struct {
	Ready          bool     `json:"ready"`
	FFmpegVersion  string   `json:"ffmpeg_version,omitempty"`
	FFprobeVersion string   `json:"ffprobe_version,omitempty"`
	Missing        []string `json:"missing,omitempty"`
	LastProbeAt    string   `json:"last_probe_at,omitempty"`
}

// ComposeRequest accepts exactly one of Tracks or URLs.
type ComposeRequest struct {
	Tracks      []timeline.Track `json:"tracks,omitempty"`
	URLs        []string         `json:"urls,omitempty"`
	BatchSize   int              `json:"batch_size,omitempty"`
	Preset      string           `json:"preset,omitempty"`
	MaxSegments int              `json:"max_segments,omitempty"`
	Title       string           `json:"title,omitempty"`
	IncludeEDL  bool             `json:"include_edl,omitempty"`
}

type ComposeResponse struct {
	compose.Counts

	RunID             string             `json:"run_id"`
	Preset            string             `json:"preset"`
	FinalMerge        bool               `json:"final_merge"`
	SoundtrackApplied bool               `json:"soundtrack_applied"`
	DurationMs        int64              `json:"duration_ms"`
	ElapsedMs         int64              `json:"elapsed_ms"`
	Filename          string             `json:"filename"`
	ContentType       string             `json:"content_type"`
	OutputBytes       int64              `json:"output_bytes"`
	Video             []byte             `json:"video"`
	EDL               string             `json:"edl,omitempty"`
	Failures          []FailureResponse  `json:"failures,omitempty"`
	Placements        []PlacementSummary `json:"placements"`
	IgnoredTracks     []string           `json:"ignored_tracks,omitempty"`
}

type FailureResponse struct {
	Ordinal int    `json:"ordinal"`
	Batch   int    `json:"batch"`
	Stage   string `json:"stage"`
	Error   string `json:"error"`
}

type PlacementSummary struct {
	Ordinal       int    `json:"ordinal"`
	Batch         int    `json:"batch"`
	OutputStartMs int64  `json:"output_start_ms"`
	DurationMs    int64  `json:"duration_ms"`
	Strategy      string `json:"strategy"`
}

type PresetResponse struct {
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Default     bool                  `json:"default"`
	Spec        transcode.TargetSpec  `json:"spec"`
	Policy      transcode.RetryPolicy `json:"policy"`
}

type PresetsResponse struct {
	Presets []PresetResponse `json:"presets"`
}

type RunResponse struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	Stage             string `json:"stage"`
	Shape             string `json:"shape"`
	Preset            string `json:"preset"`
	BatchSize         int    `json:"batch_size"`
	SegmentsAttempted int    `json:"segments_attempted"`
	SegmentsSucceeded int    `json:"segments_succeeded"`
	BatchesAttempted  int    `json:"batches_attempted"`
	BatchesSucceeded  int    `json:"batches_succeeded"`
	OutputBytes       int64  `json:"output_bytes"`
	DurationMs        int64  `json:"duration_ms"`
	Error             string `json:"error,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func RunToResponse(r *runs.Run) RunResponse {
	return RunResponse{
		ID:                r.ID,
		Status:            r.Status,
		Stage:             r.Stage,
		Shape:             r.Shape,
		Preset:            r.Preset,
		BatchSize:         r.BatchSize,
		SegmentsAttempted: r.SegmentsAttempted,
		SegmentsSucceeded: r.SegmentsSucceeded,
		BatchesAttempted:  r.BatchesAttempted,
		BatchesSucceeded:  r.BatchesSucceeded,
		OutputBytes:       r.OutputBytes,
		DurationMs:        r.DurationMs,
		Error:             r.Error,
		CreatedAt:         r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         r.UpdatedAt.Format(time.RFC3339),
	}
}

func PresetToResponse(p presets.Preset, defaultName string) PresetResponse {
	return PresetResponse{
		Name:        p.Name,
		Description: p.Description,
		Default:     p.Name == defaultName,
		Spec:        p.Spec,
		Policy:      p.Policy,
	}
}

func CapabilitiesToResponse(c *transcode.Capabilities) *FFmpegResponse {
	resp := &FFmpegResponse{
		Ready:          c.Ready(),
		FFmpegVersion:  c.FFmpegVersion,
		FFprobeVersion: c.FFprobeVersion,
		Missing:        c.Missing,
	}
	if !c.ProbedAt.IsZero() {
		resp.LastProbeAt = c.ProbedAt.Format(time.RFC3339)
	}
	return resp
}

func placementSummaries(ps []compose.Placement) []PlacementSummary {
	out := make([]PlacementSummary, len(ps))
	for i, p := range ps {
		out[i] = PlacementSummary{
			Ordinal:       p.Ordinal,
			Batch:         p.Batch,
			OutputStartMs: p.OutputStart.Milliseconds(),
			DurationMs:    p.Duration.Milliseconds(),
			Strategy:      p.Strategy,
		}
	}
	return out
}

func failureResponses(fs []compose.SegmentFailure) []FailureResponse {
	if len(fs) == 0 {
		return nil
	}
	out := make([]FailureResponse, len(fs))
	for i, f := range fs {
		out[i] = FailureResponse{Ordinal: f.Ordinal, Batch: f.Batch, Stage: f.Stage, Error: f.Message()}
	}
	return out
}
