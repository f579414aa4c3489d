package store

import (
	"context"
	"time"

	"github.com/me/kernsim/pkg/model"
)

// Store defines the persistence layer for machine runs and their traces.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)
	FinishRun(ctx context.Context, id string, ticks uint64, finishedAt time.Time) error

	// Scheduler events
	RecordEvents(ctx context.Context, runID string, events []model.Event) error
	ListEvents(ctx context.Context, runID string, opts model.ListOptions) ([]model.Event, int, error)

	// Per-process accounting, written when a process is reclaimed
	SaveProcess(ctx context.Context, runID string, p model.Process) error
	ListProcesses(ctx context.Context, runID string) ([]model.Process, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
