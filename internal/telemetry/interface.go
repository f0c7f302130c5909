package telemetry

import (
	"context"

	"codeberg.org/halvard/anemeter/internal/model"
)

// Collector records snapshots for later analysis. Disabled telemetry
// yields a no-op implementation.
type Collector interface {
	Record(ctx context.Context, snapshot *model.Snapshot) error
	Close() error
}

// Repository persists snapshots
type Repository interface {
	Record(snapshot *model.Snapshot) error
	Close() error
}
