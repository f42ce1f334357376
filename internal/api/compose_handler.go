package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-composer/internal/compose"
	"github.com/heimdex/heimdex-composer/internal/export"
	"github.com/heimdex/heimdex-composer/internal/logging"
	"github.com/heimdex/heimdex-composer/internal/runs"
	"github.com/heimdex/heimdex-composer/internal/scratch"
	"github.com/heimdex/heimdex-composer/internal/timeline"
	"github.com/heimdex/heimdex-composer/internal/transcode"
)

const (
	maxComposeBody = 1 << 20
	videoMediaType = "video/mp4"
)

func composeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ComposeRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxComposeBody)).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if len(req.Tracks) > 0 && len(req.URLs) > 0 {
			WriteError(w, http.StatusBadRequest, "send either tracks or urls, not both", "BAD_REQUEST")
			return
		}
		if req.BatchSize < 0 || req.MaxSegments < 0 {
			WriteError(w, http.StatusBadRequest, "batch_size and max_segments must not be negative", "BAD_REQUEST")
			return
		}

		preset, ok := cfg.Presets.Get(req.Preset)
		if !ok {
			WriteError(w, http.StatusBadRequest, "unknown preset: "+req.Preset, "BAD_REQUEST")
			return
		}

		shape := runs.ShapeURLs
		var tl timeline.Timeline
		if len(req.Tracks) > 0 {
			shape = runs.ShapeTracks
			tl = timeline.FromTracks(req.Tracks, cfg.SegmentDuration)
		} else {
			tl = timeline.FromURLs(req.URLs, cfg.SegmentDuration)
		}
		if tl.Empty() {
			WriteError(w, http.StatusBadRequest, compose.ErrEmptyTimeline.Error(), "EMPTY_TIMELINE")
			return
		}

		if !cfg.slots.TryAcquire(1) {
			w.Header().Set("Retry-After", "5")
			WriteError(w, http.StatusTooManyRequests, "too many compositions in progress", "BUSY")
			return
		}
		defer cfg.slots.Release(1)

		if cfg.Scratch != nil {
			if err := cfg.Scratch.EnsureFree(cfg.MinFreeBytes); err != nil {
				var low *scratch.InsufficientSpaceError
				if errors.As(err, &low) {
					cfg.Logger.Warn("rejecting compose, scratch space low", "free", low.Free, "required", low.Required)
					WriteError(w, http.StatusInsufficientStorage, err.Error(), "INSUFFICIENT_STORAGE")
					return
				}
				cfg.Logger.Warn("scratch free space check failed", "error", err)
			}
		}

		runID := uuid.NewString()
		requestID, _ := r.Context().Value(RequestIDKey).(string)
		logger := logging.WithRunID(logging.WithRequestID(cfg.Logger, requestID), runID)

		opts := compose.RunOptions{
			RunID:       runID,
			BatchSize:   req.BatchSize,
			MaxSegments: req.MaxSegments,
			Spec:        &preset.Spec,
			Policy:      &preset.Policy,
		}
		if cfg.Recorder != nil {
			cfg.Recorder.Start(&runs.Run{
				ID:                runID,
				Shape:             shape,
				Preset:            preset.Name,
				BatchSize:         cfg.Composer.BatchSize(req.BatchSize),
				SegmentsAttempted: tl.Len(),
			})
			opts.Observer = cfg.Recorder
		}
		if len(tl.Ignored) > 0 {
			logger.Info("ignoring unsupported tracks", "types", tl.Ignored)
		}

		start := time.Now()
		res, err := cfg.Composer.Run(r.Context(), &tl, opts)
		if err != nil {
			if cfg.Recorder != nil {
				cfg.Recorder.Failed(runID, err, time.Since(start))
			}
			status, code := composeErrorStatus(err)
			logger.Error("compose failed", "error", err, "status", status)
			WriteError(w, status, err.Error(), code)
			return
		}
		defer res.Close()

		if cfg.Recorder != nil {
			cfg.Recorder.Succeeded(runID, res)
		}

		filename := export.FileName(req.Title, ".mp4")
		if wantsBinary(r) {
			writeBinary(w, res, filename, logger)
			return
		}

		video, err := readArtifact(res)
		if err != nil {
			logger.Error("failed to read composed output", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to read composed output", "INTERNAL_ERROR")
			return
		}

		resp := ComposeResponse{
			Counts:            res.Counts,
			RunID:             res.RunID,
			Preset:            preset.Name,
			FinalMerge:        res.FinalMerge,
			SoundtrackApplied: res.SoundtrackApplied,
			DurationMs:        res.DurationEstimate.Milliseconds(),
			ElapsedMs:         res.Elapsed.Milliseconds(),
			Filename:          filename,
			ContentType:       videoMediaType,
			OutputBytes:       res.OutputSize,
			Video:             video,
			Failures:          failureResponses(res.Failures),
			Placements:        placementSummaries(res.Placements),
			IgnoredTracks:     tl.Ignored,
		}
		if req.IncludeEDL {
			resp.EDL = export.GenerateEDL(res.Placements, req.Title, float64(preset.Spec.FrameRate))
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func wantsBinary(r *http.Request) bool {
	if r.URL.Query().Get("response") == "binary" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), videoMediaType)
}

func readArtifact(res *compose.Result) ([]byte, error) {
	f, err := res.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func writeBinary(w http.ResponseWriter, res *compose.Result, filename string, logger *slog.Logger) {
	f, err := res.Open()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to open composed output", "INTERNAL_ERROR")
		return
	}
	defer f.Close()

	h := w.Header()
	h.Set("Content-Type", videoMediaType)
	h.Set("Content-Length", strconv.FormatInt(res.OutputSize, 10))
	h.Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	h.Set("X-Composer-Run-ID", res.RunID)
	h.Set("X-Composer-Segments-Attempted", strconv.Itoa(res.SegmentsAttempted))
	h.Set("X-Composer-Segments-Succeeded", strconv.Itoa(res.SegmentsSucceeded))
	h.Set("X-Composer-Batches-Attempted", strconv.Itoa(res.BatchesAttempted))
	h.Set("X-Composer-Batches-Succeeded", strconv.Itoa(res.BatchesSucceeded))
	h.Set("X-Composer-Final-Merge", strconv.FormatBool(res.FinalMerge))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		logger.Warn("client went away during download", "error", err)
	}
}

// composeErrorStatus maps a pipeline failure onto an HTTP status and code.
func composeErrorStatus(err error) (int, string) {
	var concatErr *transcode.ConcatError
	switch {
	case errors.Is(err, compose.ErrEmptyTimeline):
		return http.StatusBadRequest, "EMPTY_TIMELINE"
	case errors.Is(err, compose.ErrTimelineTooLong):
		return http.StatusBadRequest, "TIMELINE_TOO_LONG"
	case errors.Is(err, compose.ErrNoSegmentsProcessed):
		return http.StatusUnprocessableEntity, "NO_SEGMENTS_PROCESSED"
	case errors.As(err, &concatErr):
		return http.StatusInternalServerError, "CONCAT_FAILED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
