// Package mastering implements the radio mastering chain applied to uploads:
// channel and rate normalization, high-pass filtering, compression,
// presence equalization and peak limiting.
package mastering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maauso/decupagem-api/internal/audio"
	"github.com/maauso/decupagem-api/internal/metrics"
)

// ErrNoEqualizer is reported when the pipeline has no equalizer backend.
var ErrNoEqualizer = errors.New("mastering: no equalizer configured")

// Stage names, in execution order.
const (
	StageChannels   = "channels"
	StageSampleRate = "sample_rate"
	StageHighPass   = "high_pass"
	StageCompressor = "compressor"
	StageEqualizer  = "equalizer"
	StageLimiter    = "limiter"
)

// Outcome tags the result of a single stage.
type Outcome string

const (
	// OutcomeApplied means the stage transformed the audio.
	OutcomeApplied Outcome = "applied"
	// OutcomeSkipped means the audio already satisfied the stage.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDegraded means the stage could not run and the audio passed through unchanged.
	OutcomeDegraded Outcome = "degraded"
)

// CompressorConfig holds dynamic-range compression parameters.
type CompressorConfig struct {
	ThresholdDB float64 `json:"threshold_db"`
	Ratio       float64 `json:"ratio"`
	AttackMs    float64 `json:"attack_ms"`
	ReleaseMs   float64 `json:"release_ms"`
}

// EqualizerConfig holds the presence boost parameters.
type EqualizerConfig struct {
	CenterHz float64 `json:"center_hz"`
	GainDB   float64 `json:"gain_db"`
}

// LimiterConfig holds the peak ceiling.
type LimiterConfig struct {
	CeilingDBFS float64 `json:"ceiling_dbfs"`
}

// Config is the fixed mastering chain configuration.
type Config struct {
	TargetChannels   int              `json:"target_channels"`
	TargetSampleRate int              `json:"target_sample_rate_hz"`
	HighPassCutoffHz float64          `json:"high_pass_cutoff_hz"`
	Compressor       CompressorConfig `json:"compressor"`
	Equalizer        EqualizerConfig  `json:"equalizer"`
	Limiter          LimiterConfig    `json:"limiter"`
}

// DefaultConfig returns the broadcast settings tuned for speech.
func DefaultConfig() Config {
	return Config{
		TargetChannels:   2,
		TargetSampleRate: 44100,
		HighPassCutoffHz: 80,
		Compressor: CompressorConfig{
			ThresholdDB: -20,
			Ratio:       4,
			AttackMs:    5,
			ReleaseMs:   50,
		},
		Equalizer: EqualizerConfig{CenterHz: 300, GainDB: 1.5},
		Limiter:   LimiterConfig{CeilingDBFS: -6},
	}
}

// Equalizer applies a parametric peaking boost. Implementations may depend
// on external tooling and are allowed to fail.
type Equalizer interface {
	Equalize(ctx context.Context, b *audio.Buffer, centerHz, gainDB float64) (*audio.Buffer, error)
}

// StageResult records what happened in one stage.
type StageResult struct {
	Stage   string  `json:"stage"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// Report lists the stage outcomes of one Master call.
type Report struct {
	Stages   []StageResult `json:"stages"`
	Degraded bool          `json:"degraded"`
}

func (r *Report) add(stage string, outcome Outcome, err error) {
	res := StageResult{Stage: stage, Outcome: outcome}
	if err != nil {
		res.Error = err.Error()
	}
	if outcome == OutcomeDegraded {
		r.Degraded = true
	}
	r.Stages = append(r.Stages, res)
	metrics.RecordStage(stage, string(outcome))
}

// Pipeline runs the mastering chain.
type Pipeline struct {
	cfg    Config
	eq     Equalizer
	logger *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConfig overrides the default chain parameters.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) {
		p.cfg = cfg
	}
}

// New creates a Pipeline. A nil equalizer makes the equalizer stage degrade.
func New(eq Equalizer, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cfg:    DefaultConfig(),
		eq:     eq,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the chain parameters in use.
func (p *Pipeline) Config() Config { return p.cfg }

// Master runs every stage in order and returns the mastered buffer.
//
// The input is never modified. Stages that cannot run are recorded as
// degraded and the best-effort buffer is still returned; only cancellation of
// ctx aborts the chain.
func (p *Pipeline) Master(ctx context.Context, in *audio.Buffer) (*audio.Buffer, Report, error) {
	var report Report
	b := in

	// Format normalization must precede the filters, which assume the target layout.
	next := ToChannels(b, p.cfg.TargetChannels)
	report.add(StageChannels, outcomeFor(b, next), nil)
	b = next

	next = Resample(b, p.cfg.TargetSampleRate)
	report.add(StageSampleRate, outcomeFor(b, next), nil)
	b = next

	b = HighPass(b, p.cfg.HighPassCutoffHz)
	report.add(StageHighPass, OutcomeApplied, nil)

	b = Compress(b, p.cfg.Compressor)
	report.add(StageCompressor, OutcomeApplied, nil)

	if err := ctx.Err(); err != nil {
		return nil, report, fmt.Errorf("mastering cancelled: %w", err)
	}
	b = p.equalize(ctx, b, &report)
	if err := ctx.Err(); err != nil {
		return nil, report, fmt.Errorf("mastering cancelled: %w", err)
	}

	next = Limit(b, p.cfg.Limiter.CeilingDBFS)
	report.add(StageLimiter, outcomeFor(b, next), nil)
	b = next

	if report.Degraded {
		p.logger.Warn("mastering degraded",
			slog.Any("stages", report.Stages),
		)
	} else {
		p.logger.Debug("mastering complete",
			slog.Int("channels", b.Channels()),
			slog.Int("sample_rate", b.SampleRate()),
			slog.Float64("peak_dbfs", b.PeakDBFS()),
		)
	}

	return b, report, nil
}

func (p *Pipeline) equalize(ctx context.Context, b *audio.Buffer, report *Report) *audio.Buffer {
	if p.eq == nil {
		report.add(StageEqualizer, OutcomeDegraded, ErrNoEqualizer)
		return b
	}

	out, err := p.eq.Equalize(ctx, b, p.cfg.Equalizer.CenterHz, p.cfg.Equalizer.GainDB)
	if err == nil && !out.SameFormat(b) {
		err = fmt.Errorf("mastering: equalizer changed format to %d ch / %d Hz", out.Channels(), out.SampleRate())
	}
	if err != nil {
		p.logger.Warn("equalizer stage failed, passing audio through",
			slog.String("error", err.Error()),
		)
		report.add(StageEqualizer, OutcomeDegraded, err)
		return b
	}

	report.add(StageEqualizer, OutcomeApplied, nil)
	return out
}

func outcomeFor(before, after *audio.Buffer) Outcome {
	if before == after {
		return OutcomeSkipped
	}
	return OutcomeApplied
}
