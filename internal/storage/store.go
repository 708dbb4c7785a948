package storage

import (
	"context"

	"pathsim/internal/model"
)

// Store persists pipeline runs. ListRuns returns summaries in insertion
// order; an empty sweepID lists every run.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, record model.RunRecord) error
	GetRun(ctx context.Context, runID string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context, sweepID string) ([]model.RunSummary, error)
}
