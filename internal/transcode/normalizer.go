package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/heimdex/heimdex-composer/internal/logging"
)

// NormalizeRequest is one fetched source to be forced into Spec.
type NormalizeRequest struct {
	Input    string
	Output   string
	Ordinal  int
	Duration time.Duration
	Spec     TargetSpec
	Policy   RetryPolicy
}

// Clip is a normalized segment ready for stream-copy concatenation.
type Clip struct {
	Path     string
	Ordinal  int
	Duration time.Duration
	Strategy string
	Attempts int
}

// Normalizer re-encodes one segment per call, walking the retry policy's
// strategies until one succeeds.
type Normalizer struct {
	runner  Runner
	prober  *Prober
	ffmpeg  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewNormalizer creates a normalizer. prober may be nil, in which case every
// source is assumed to carry audio.
func NewNormalizer(runner Runner, prober *Prober, ffmpegPath string, timeout time.Duration, logger *slog.Logger) *Normalizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Normalizer{
		runner:  runner,
		prober:  prober,
		ffmpeg:  ffmpegPath,
		timeout: timeout,
		logger:  logger,
	}
}

// Normalize trims or pads req.Input to exactly req.Duration in req.Spec.
// The input file is removed on every return path.
func (n *Normalizer) Normalize(ctx context.Context, req NormalizeRequest) (*Clip, error) {
	defer os.Remove(req.Input)

	if req.Duration <= 0 {
		return nil, &NormalizeError{
			Ordinal:  req.Ordinal,
			Attempts: []Attempt{{Strategy: StrategyPrimary, Err: fmt.Errorf("invalid duration %s", req.Duration)}},
		}
	}

	hasAudio := true
	if n.prober != nil {
		pr, err := n.prober.Probe(ctx, req.Input)
		switch {
		case err != nil:
			n.logger.Debug("probe failed, assuming audio present",
				"ordinal", req.Ordinal,
				"path", logging.SanitizePath(req.Input),
				"error", err,
			)
		case !pr.HasVideo:
			return nil, &NormalizeError{
				Ordinal:  req.Ordinal,
				Attempts: []Attempt{{Strategy: "probe", Err: errors.New("source has no video stream")}},
			}
		default:
			hasAudio = pr.HasAudio
		}
	}

	nerr := &NormalizeError{Ordinal: req.Ordinal}
	for _, st := range req.Policy.Strategies(hasAudio) {
		if err := ctx.Err(); err != nil {
			nerr.Attempts = append(nerr.Attempts, Attempt{Strategy: st.Name, Err: err})
			break
		}

		err := n.attempt(ctx, req, st)
		if err == nil {
			attempts := len(nerr.Attempts) + 1
			if attempts > 1 {
				n.logger.Info("segment normalized with fallback strategy",
					"ordinal", req.Ordinal,
					"strategy", st.Name,
					"attempts", attempts,
				)
			}
			return &Clip{
				Path:     req.Output,
				Ordinal:  req.Ordinal,
				Duration: req.Duration,
				Strategy: st.Name,
				Attempts: attempts,
			}, nil
		}

		os.Remove(req.Output)
		nerr.Attempts = append(nerr.Attempts, Attempt{Strategy: st.Name, Err: err})
		n.logger.Debug("normalize strategy failed",
			"ordinal", req.Ordinal,
			"strategy", st.Name,
			"error", err,
		)
	}
	return nil, nerr
}

func (n *Normalizer) attempt(ctx context.Context, req NormalizeRequest, st Strategy) error {
	args := NormalizeArgs(req.Input, req.Output, req.Duration, req.Spec, st)
	res := n.runner.Run(ctx, n.timeout, n.ffmpeg, args...)
	if !res.IsSuccess() {
		return newProcessError("normalize", res)
	}
	return checkOutput(req.Output)
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("missing output: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("empty output")
	}
	return nil
}
