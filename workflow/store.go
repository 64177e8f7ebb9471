package workflow

import "context"

// RunStore persists pipeline state at stage boundaries so a suspended
// or interrupted run survives process restart. Implementations live in
// the runstore package.
type RunStore interface {
	// Save upserts the state keyed by its RunID.
	Save(ctx context.Context, state *PipelineState) error
	// Load returns the stored state or a RUN_NOT_FOUND error.
	Load(ctx context.Context, runID string) (*PipelineState, error)
	// List returns every stored run ID, newest first.
	List(ctx context.Context) ([]string, error)
	// Delete removes a run. Deleting an unknown run is a no-op.
	Delete(ctx context.Context, runID string) error
}
