// Package storage persists monitor snapshots and the usage ledger.
package storage

import (
	"context"

	"github.com/econeura/usage-guardian/pkg/model"
)

// Storage defines the persistence layer for monitor state and usage records.
type Storage interface {
	// SaveSnapshot replaces the stored monitor state with snap in one transaction.
	SaveSnapshot(ctx context.Context, snap model.Snapshot) error

	// LoadSnapshot returns the stored monitor state. An empty store yields an
	// empty snapshot.
	LoadSnapshot(ctx context.Context) (model.Snapshot, error)

	// RecordUsage persists a single usage record.
	RecordUsage(ctx context.Context, record *model.UsageRecord) error

	// QueryUsage retrieves usage records matching the given filter.
	QueryUsage(ctx context.Context, filter model.ReportFilter) ([]model.UsageRecord, error)

	// AggregateUsage returns total amount and tokens for the records matching filter.
	AggregateUsage(ctx context.Context, filter model.ReportFilter) (*model.UsageSummary, error)

	// Close releases resources.
	Close() error
}
