package ports

import (
	"context"
	"time"

	"vigilintel/internal/domain"
)

// ReportSource fetches the daily report bundle published for a date.
// A day with no published report is reported via domain.ErrReportNotFound.
type ReportSource interface {
	FetchBundle(ctx context.Context, day time.Time) (domain.Bundle, error)
}

// BundleSink forwards validated bundles into the downstream platform
// and tracks the work grouping one pass.
type BundleSink interface {
	InitiateWork(ctx context.Context, friendlyName string) (string, error)
	SendBundle(ctx context.Context, workID string, bundle domain.Bundle) error
	FinishWork(ctx context.Context, workID, message string) error
}

// StateStore persists the watermark mapping across restarts. Get returns
// an empty map when nothing has been persisted yet. Single writer.
type StateStore interface {
	Get(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, state map[string]string) error
}

// Scheduler controls when ingestion passes execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
