package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/smartplant/internal/tracing"
	"github.com/onnwee/smartplant/internal/upload"
)

// DefaultSweepTimeout bounds a single sweep run.
const DefaultSweepTimeout = 10 * time.Minute

// Sweeper runs one orphan sweep. *upload.OrphanSweeper satisfies it.
type Sweeper interface {
	Run(ctx context.Context, opts upload.SweepOptions) (upload.SweepResult, error)
}

// Reporter receives job outcomes. *Metrics satisfies it.
type Reporter interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
	SetOrphansFound(n int)
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	// DefaultGrace applies when a payload carries no grace period.
	DefaultGrace time.Duration
	Timeout      time.Duration
	Metrics      Reporter
	Logger       *slog.Logger
}

// Processor handles maintenance tasks inside the asynq worker loop.
type Processor struct {
	sweeper Sweeper
	config  ProcessorConfig
}

// NewProcessor constructs a processor.
func NewProcessor(sweeper Sweeper, cfg ProcessorConfig) *Processor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSweepTimeout
	}
	return &Processor{sweeper: sweeper, config: cfg}
}

// Handler returns a mux with every task handler registered.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeOrphanSweep, p.HandleSweep)
	return mux
}

// HandleSweep runs a sweep task. Malformed payloads are not retried.
func (p *Processor) HandleSweep(ctx context.Context, task *asynq.Task) (err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "jobs.orphan_sweep")
	defer func() { endSpan(err) }()

	var payload SweepPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			p.fail(ErrorTypePayload, 0)
			return fmt.Errorf("decode sweep payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	grace := payload.Grace()
	if grace <= 0 {
		grace = p.config.DefaultGrace
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := time.Now()
	result, err := p.sweeper.Run(ctx, upload.SweepOptions{OlderThan: grace, DryRun: payload.DryRun})
	duration := time.Since(start).Seconds()
	tracing.SetAttributes(ctx,
		attribute.Int("sweep.scanned", result.Scanned),
		attribute.Int("sweep.orphaned", result.Orphaned),
		attribute.Bool("sweep.dry_run", payload.DryRun))
	if err != nil {
		p.fail(ErrorTypeSweep, duration)
		p.config.Logger.ErrorContext(ctx, "orphan sweep failed",
			slog.String("error", err.Error()),
			slog.Int("scanned", result.Scanned))
		return err
	}

	if m := p.config.Metrics; m != nil {
		m.IncJobsTotal(JobTypeOrphanSweep, StatusSuccess)
		m.ObserveJobDuration(JobTypeOrphanSweep, duration)
		m.SetOrphansFound(result.Orphaned)
	}
	if w := task.ResultWriter(); w != nil {
		if data, err := json.Marshal(result); err == nil {
			_, _ = w.Write(data)
		}
	}
	p.config.Logger.InfoContext(ctx, "orphan sweep task completed",
		slog.Int("orphaned", result.Orphaned),
		slog.Int("deleted", result.Deleted),
		slog.Bool("dry_run", payload.DryRun),
		slog.Float64("duration_s", duration))
	return nil
}

func (p *Processor) fail(errorType string, duration float64) {
	m := p.config.Metrics
	if m == nil {
		return
	}
	m.IncJobErrors(JobTypeOrphanSweep, errorType)
	m.IncJobsTotal(JobTypeOrphanSweep, StatusFailure)
	m.ObserveJobDuration(JobTypeOrphanSweep, duration)
}
