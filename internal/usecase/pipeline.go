package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vigilintel/internal/domain"
	"vigilintel/internal/ports"
	"vigilintel/internal/reconcile"
)

// PipelineDeps wires all driven adapters into the ingestion pipeline.
type PipelineDeps struct {
	Source       ports.ReportSource
	Sink         ports.BundleSink
	State        ports.StateStore
	LookbackDays int
	Logger       *slog.Logger
}

// Pipeline implements the per-date ingestion workflow of one pass.
type Pipeline struct {
	source       ports.ReportSource
	sink         ports.BundleSink
	state        ports.StateStore
	lookbackDays int
	logger       *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{
		source:       deps.Source,
		sink:         deps.Sink,
		state:        deps.State,
		lookbackDays: deps.LookbackDays,
		logger:       deps.Logger,
	}
}

// RunPass executes one reconcile-and-ingest cycle: it computes the
// pending dates from the persisted watermark, fetches and validates the
// report for each, forwards valid bundles to the platform, and persists
// the new watermark when at least one date imported.
//
// Every visited date advances the watermark candidate regardless of its
// outcome; only a pass with zero imports leaves the watermark untouched
// so it is retried on the next interval.
func (p *Pipeline) RunPass(ctx context.Context, now time.Time) error {
	state, err := p.state.Get(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	today := reconcile.Day(now)
	wm := domain.ParseWatermark(state)
	dates := reconcile.Pending(today, wm, p.lookbackDays)

	if len(dates) == 0 {
		p.info("already up to date", "last_processed_date", wm.LastProcessedDate.Format("2006-01-02"))
		return nil
	}
	if wm == nil {
		p.info("first run detected, backfilling",
			"from", dates[0].Format("2006-01-02"),
			"to", today.Format("2006-01-02"))
	}

	friendlyName := fmt.Sprintf("VigilIntel run @ %s", now.UTC().Format("2006-01-02 15:04:05"))
	workID, err := p.sink.InitiateWork(ctx, friendlyName)
	if err != nil {
		return fmt.Errorf("initiate work: %w", err)
	}

	summary := domain.PassSummary{Total: len(dates)}
	var lastVisited time.Time

	p.info("processing dates", "count", summary.Total)

	for i, day := range dates {
		dateStr := day.Format("2006-01-02")
		p.info("processing date", "date", dateStr, "position", fmt.Sprintf("%d/%d", i+1, summary.Total))

		// The date is visited from here on; never retry it in a later pass.
		lastVisited = day

		bundle, err := p.source.FetchBundle(ctx, day)
		if errors.Is(err, domain.ErrReportNotFound) {
			p.warn("no report published", "date", dateStr)
			summary.Skipped++
			continue
		}
		if err != nil {
			p.error("fetch failed", "date", dateStr, "error", err)
			summary.Errors++
			continue
		}

		if err := bundle.Validate(); err != nil {
			p.error("invalid bundle", "date", dateStr, "error", err)
			summary.Errors++
			continue
		}

		p.info("valid bundle", "date", dateStr, "objects", bundle.ObjectCount())

		if err := p.sink.SendBundle(ctx, workID, bundle); err != nil {
			p.error("forward to platform failed", "date", dateStr, "error", err)
			summary.Errors++
			continue
		}
		summary.Imported++
	}

	if summary.Imported >= 1 {
		next := domain.Watermark{LastProcessedDate: lastVisited, LastRun: now.UTC()}
		if err := p.state.Set(ctx, next.StateMap()); err != nil {
			return fmt.Errorf("persist state: %w", err)
		}
		p.info("state updated", "last_processed_date", lastVisited.Format("2006-01-02"))
	}

	message := summary.Message()
	p.info("pass complete", "summary", message)

	if err := p.sink.FinishWork(ctx, workID, message); err != nil {
		return fmt.Errorf("finalize work: %w", err)
	}
	return nil
}

func (p *Pipeline) info(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

func (p *Pipeline) error(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Error(msg, args...)
	}
}
