// Package store persists run snapshots so suspended runs survive process
// restarts. Both engines share one table keyed by run id, with the full
// snapshot serialized as a JSON document.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// ErrNotFound is returned when no run exists for the given id.
var ErrNotFound = eris.New("store: run not found")

// RunInfo is the listing view of a stored run, without the snapshot body.
type RunInfo struct {
	ID        string        `json:"id"`
	Kind      model.RunKind `json:"kind"`
	Stage     model.Stage   `json:"stage"`
	CreatedAt string        `json:"created_at"`
	UpdatedAt string        `json:"updated_at"`
	ExpiresAt string        `json:"expires_at"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Kind   model.RunKind `json:"kind,omitempty"`
	Stage  model.Stage   `json:"stage,omitempty"`
	Limit  int           `json:"limit,omitempty"`
	Offset int           `json:"offset,omitempty"`
}

// RunStore defines the persistence interface for run snapshots.
type RunStore interface {
	// Pipeline snapshots
	SavePipeline(ctx context.Context, snap *model.PipelineSnapshot) error
	GetPipeline(ctx context.Context, id string) (*model.PipelineSnapshot, error)

	// Dispatch snapshots
	SaveDispatch(ctx context.Context, snap *model.DispatchSnapshot) error
	GetDispatch(ctx context.Context, id string) (*model.DispatchSnapshot, error)

	// Listing and cleanup
	List(ctx context.Context, filter RunFilter) ([]RunInfo, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
