// Package storage records batch runs and their failed items.
package storage

import (
	"context"

	"github.com/hyperjump/dispict/internal/models"
)

// Ledger persists run bookkeeping. It is never on the query path.
type Ledger interface {
	CreateRun(ctx context.Context, run *models.Run) error
	FinishRun(ctx context.Context, run *models.Run) error
	RecordFailures(ctx context.Context, failures []*models.Failure) error

	LastRun(ctx context.Context) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*models.Run, error)
	ListFailures(ctx context.Context, runID string) ([]*models.Failure, error)
	CountFailures(ctx context.Context, runID string) (int64, error)

	Close() error
}
