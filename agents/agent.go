package agents

import (
	"context"

	"github.com/BaSui01/sciflow/types"
)

// ResearchResult is one domain agent's contribution to a run.
type ResearchResult struct {
	AgentID    string           `json:"agent_id"`
	Field      string           `json:"field"`
	Summary    string           `json:"summary"`
	Insights   []string         `json:"insights,omitempty"`
	Documents  []types.Document `json:"documents,omitempty"`
	Confidence float64          `json:"confidence"`
	Err        string           `json:"error,omitempty"`
}

// DomainAgent researches a query from one field's perspective. The
// persona and prompt text behind an agent are configuration; the
// pipeline only depends on this contract.
type DomainAgent interface {
	// ID is a stable identity used to key result slots, so fan-in
	// ordering is reproducible regardless of completion order.
	ID() string
	Field() string
	Research(ctx context.Context, query string) (*ResearchResult, error)
}

// SearchTool is an external document search (arXiv, PubMed, web). Zero
// or more may be registered per domain; the pipeline treats them all
// uniformly.
type SearchTool interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]types.Document, error)
}

// SearchToolFunc adapts a function to the SearchTool interface.
type SearchToolFunc struct {
	ToolName string
	Fn       func(ctx context.Context, query string, maxResults int) ([]types.Document, error)
}

func (t SearchToolFunc) Name() string { return t.ToolName }

func (t SearchToolFunc) Search(ctx context.Context, query string, maxResults int) ([]types.Document, error) {
	return t.Fn(ctx, query, maxResults)
}
