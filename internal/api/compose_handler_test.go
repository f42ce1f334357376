package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/heimdex/heimdex-composer/internal/compose"
	"github.com/heimdex/heimdex-composer/internal/logging"
	"github.com/heimdex/heimdex-composer/internal/runs"
	"github.com/heimdex/heimdex-composer/internal/scratch"
	"github.com/heimdex/heimdex-composer/internal/transcode"
)

func composeRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/compose", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCompose_URLsJSONResponse(t *testing.T) {
	fc := &fakeComposer{dir: t.TempDir()}
	router := NewRouter(testConfig(t, fc))

	rr := serve(router, composeRequest(t, `{"urls":["https://x/a.mp4"," ","https://x/b.mp4"],"batch_size":2}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, body %s", rr.Code, rr.Body.String())
	}

	var resp ComposeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(resp.Video) != "composed-video" {
		t.Fatalf("video = %q, want composed-video", resp.Video)
	}
	if resp.SegmentsAttempted != 2 || resp.SegmentsSucceeded != 2 {
		t.Fatalf("counts = %+v", resp.Counts)
	}
	if resp.Filename != "composition.mp4" || resp.ContentType != "video/mp4" {
		t.Fatalf("filename/content type = %q/%q", resp.Filename, resp.ContentType)
	}
	if resp.DurationMs != 10000 {
		t.Fatalf("duration_ms = %d, want 10000", resp.DurationMs)
	}
	if len(resp.Placements) != 2 || resp.Placements[1].OutputStartMs != 5000 {
		t.Fatalf("placements = %+v", resp.Placements)
	}
	if resp.EDL != "" {
		t.Fatal("edl should be omitted unless requested")
	}
	if resp.Preset != "standard" {
		t.Fatalf("preset = %q, want standard", resp.Preset)
	}

	opts := fc.lastCall()
	if opts.BatchSize != 2 || opts.RunID != resp.RunID {
		t.Fatalf("run options = %+v", opts)
	}
	if opts.Observer == nil {
		t.Fatal("run ledger should observe the run")
	}
}

func TestCompose_TracksWithPresetAndEDL(t *testing.T) {
	fc := &fakeComposer{dir: t.TempDir()}
	cfg := testConfig(t, fc)
	router := NewRouter(cfg)

	body := `{
		"preset": "HIGH",
		"title": "My Reel",
		"include_edl": true,
		"tracks": [
			{"type": "video", "keyframes": [
				{"url": "https://x/second.mp4", "timestamp": 3000, "duration": 2000},
				{"url": "https://x/first.mp4", "timestamp": 0, "duration": 3000}
			]},
			{"type": "audio", "keyframes": [{"url": "https://x/music.mp3", "timestamp": 0}]},
			{"type": "caption", "keyframes": []}
		]
	}`
	rr := serve(router, composeRequest(t, body))
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, body %s", rr.Code, rr.Body.String())
	}

	var resp ComposeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Filename != "My_Reel.mp4" {
		t.Fatalf("filename = %q", resp.Filename)
	}
	if !strings.Contains(resp.EDL, "TITLE: My Reel") || !strings.Contains(resp.EDL, "first.mp4") {
		t.Fatalf("edl = %q", resp.EDL)
	}
	if len(resp.IgnoredTracks) != 1 || resp.IgnoredTracks[0] != "caption" {
		t.Fatalf("ignored tracks = %v", resp.IgnoredTracks)
	}

	high, _ := cfg.Presets.Get("high")
	opts := fc.lastCall()
	if opts.Spec == nil || *opts.Spec != high.Spec {
		t.Fatalf("spec = %+v, want %+v", opts.Spec, high.Spec)
	}

	tl := fc.seen[0]
	if tl.Soundtrack != "https://x/music.mp3" {
		t.Fatalf("soundtrack = %q", tl.Soundtrack)
	}
	if tl.Segments[0].Source != "https://x/first.mp4" {
		t.Fatalf("segments not ordered by timestamp: %+v", tl.Segments)
	}
}

func TestCompose_BinaryResponse(t *testing.T) {
	router := NewRouter(testConfig(t, &fakeComposer{dir: t.TempDir()}))

	tests := []struct {
		name   string
		path   string
		accept string
	}{
		{name: "accept header", path: "/compose", accept: "video/mp4"},
		{name: "query parameter", path: "/compose?response=binary"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(`{"urls":["https://x/a.mp4"],"title":"clip"}`))
			if tc.accept != "" {
				req.Header.Set("Accept", tc.accept)
			}
			rr := serve(router, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("status code = %d, body %s", rr.Code, rr.Body.String())
			}
			if ct := rr.Header().Get("Content-Type"); ct != "video/mp4" {
				t.Fatalf("Content-Type = %q", ct)
			}
			if rr.Body.String() != "composed-video" {
				t.Fatalf("body = %q", rr.Body.String())
			}
			if got := rr.Header().Get("X-Composer-Segments-Succeeded"); got != "1" {
				t.Fatalf("X-Composer-Segments-Succeeded = %q", got)
			}
			if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename="clip.mp4"` {
				t.Fatalf("Content-Disposition = %q", got)
			}
			if rr.Header().Get("X-Composer-Run-ID") == "" {
				t.Fatal("missing run id header")
			}
		})
	}
}

func TestCompose_BadRequests(t *testing.T) {
	fc := &fakeComposer{dir: t.TempDir()}
	router := NewRouter(testConfig(t, fc))

	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "invalid json", body: `{`, code: "BAD_REQUEST"},
		{name: "both shapes", body: `{"urls":["https://x/a.mp4"],"tracks":[{"type":"video","keyframes":[{"url":"https://x/b.mp4"}]}]}`, code: "BAD_REQUEST"},
		{name: "negative batch size", body: `{"urls":["https://x/a.mp4"],"batch_size":-1}`, code: "BAD_REQUEST"},
		{name: "negative max segments", body: `{"urls":["https://x/a.mp4"],"max_segments":-2}`, code: "BAD_REQUEST"},
		{name: "unknown preset", body: `{"urls":["https://x/a.mp4"],"preset":"nope"}`, code: "BAD_REQUEST"},
		{name: "no segments", body: `{}`, code: "EMPTY_TIMELINE"},
		{name: "blank urls", body: `{"urls":["", "  "]}`, code: "EMPTY_TIMELINE"},
		{name: "audio only tracks", body: `{"tracks":[{"type":"audio","keyframes":[{"url":"https://x/a.mp3"}]}]}`, code: "EMPTY_TIMELINE"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(router, composeRequest(t, tc.body))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status code = %d, want %d", rr.Code, http.StatusBadRequest)
			}
			if code := decodeJSONBody(t, rr)["code"]; code != tc.code {
				t.Fatalf("code = %v, want %s", code, tc.code)
			}
		})
	}

	if len(fc.calls) != 0 {
		t.Fatalf("composer called %d times for rejected requests", len(fc.calls))
	}
}

func TestCompose_PipelineErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "nothing survived",
			err:    &compose.RunError{RunID: "r", State: compose.StateFailed, Err: compose.ErrNoSegmentsProcessed},
			status: http.StatusUnprocessableEntity,
			code:   "NO_SEGMENTS_PROCESSED",
		},
		{
			name:   "too long",
			err:    &compose.RunError{Err: fmt.Errorf("%w: 9 segments, limit 8", compose.ErrTimelineTooLong)},
			status: http.StatusBadRequest,
			code:   "TIMELINE_TOO_LONG",
		},
		{
			name:   "final merge",
			err:    &compose.RunError{Err: fmt.Errorf("final assembly: %w", &transcode.ConcatError{Stage: transcode.StageBatches, Inputs: 2, Err: errors.New("exit 1")})},
			status: http.StatusInternalServerError,
			code:   "CONCAT_FAILED",
		},
		{
			name:   "other",
			err:    errors.New("scratch gone"),
			status: http.StatusInternalServerError,
			code:   "INTERNAL_ERROR",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t, &fakeComposer{dir: t.TempDir(), err: tc.err})
			router := NewRouter(cfg)

			rr := serve(router, composeRequest(t, `{"urls":["https://x/a.mp4"]}`))
			if rr.Code != tc.status {
				t.Fatalf("status code = %d, want %d", rr.Code, tc.status)
			}
			if code := decodeJSONBody(t, rr)["code"]; code != tc.code {
				t.Fatalf("code = %v, want %s", code, tc.code)
			}

			list, err := cfg.Runs.ListRuns(context.Background(), 10)
			if err != nil {
				t.Fatalf("ListRuns() error = %v", err)
			}
			if len(list) != 1 || list[0].Status != runs.StatusFailed {
				t.Fatalf("ledger = %+v, want one failed run", list)
			}
		})
	}
}

func TestCompose_BusyWhenSlotsTaken(t *testing.T) {
	fc := &fakeComposer{
		dir:     t.TempDir(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	cfg := testConfig(t, fc)
	cfg.MaxConcurrentRuns = 1
	router := NewRouter(cfg)

	done := make(chan int, 1)
	go func() {
		done <- serve(router, composeRequest(t, `{"urls":["https://x/a.mp4"]}`)).Code
	}()
	<-fc.started

	rr := serve(router, composeRequest(t, `{"urls":["https://x/b.mp4"]}`))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	if code := decodeJSONBody(t, rr)["code"]; code != "BUSY" {
		t.Fatalf("code = %v, want BUSY", code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}

	close(fc.release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", code)
	}

	// Slot released: the next request runs.
	fc.started = nil
	if rr := serve(router, composeRequest(t, `{"urls":["https://x/c.mp4"]}`)); rr.Code != http.StatusOK {
		t.Fatalf("status after release = %d, want 200", rr.Code)
	}
}

func TestCompose_InsufficientStorage(t *testing.T) {
	fc := &fakeComposer{dir: t.TempDir()}
	cfg := testConfig(t, fc)
	space, err := scratch.New(t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatalf("scratch.New() error = %v", err)
	}
	cfg.Scratch = space
	cfg.MinFreeBytes = math.MaxUint64

	rr := serve(NewRouter(cfg), composeRequest(t, `{"urls":["https://x/a.mp4"]}`))
	if rr.Code != http.StatusInsufficientStorage {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusInsufficientStorage)
	}
	if code := decodeJSONBody(t, rr)["code"]; code != "INSUFFICIENT_STORAGE" {
		t.Fatalf("code = %v", code)
	}
	if len(fc.calls) != 0 {
		t.Fatal("composer should not run without scratch space")
	}
}

func TestComposeErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{compose.ErrEmptyTimeline, http.StatusBadRequest, "EMPTY_TIMELINE"},
		{fmt.Errorf("wrapped: %w", compose.ErrNoSegmentsProcessed), http.StatusUnprocessableEntity, "NO_SEGMENTS_PROCESSED"},
		{&transcode.ConcatError{Stage: transcode.StageClips}, http.StatusInternalServerError, "CONCAT_FAILED"},
		{errors.New("x"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range tests {
		status, code := composeErrorStatus(tc.err)
		if status != tc.status || code != tc.code {
			t.Errorf("composeErrorStatus(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}
