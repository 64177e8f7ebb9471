package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/sciflow/llm"
	"github.com/BaSui01/sciflow/types"
)

const researchSystemTemplate = `You are a senior researcher in %s. Analyze the query strictly from
your field's perspective using the provided literature. Respond with a
JSON object:

  {"summary": "...", "insights": ["...", "..."], "confidence": 0.0-1.0}

Summary is 2-4 sentences. Insights are the field-specific findings
that other disciplines would miss. Confidence reflects how well the
literature supports your analysis. No other text.`

// SearchAgentConfig tunes a single search-backed agent.
type SearchAgentConfig struct {
	// MaxResults bounds each tool's result set. Zero means 5.
	MaxResults int
	// MaxContextDocs bounds how many documents reach the model. Zero
	// means 8.
	MaxContextDocs int
}

func (c SearchAgentConfig) withDefaults() SearchAgentConfig {
	if c.MaxResults <= 0 {
		c.MaxResults = 5
	}
	if c.MaxContextDocs <= 0 {
		c.MaxContextDocs = 8
	}
	return c
}

// SearchAgent is the stock DomainAgent: it gathers literature through
// its search tools and asks the model for a field-scoped analysis.
// With no tools, or when every tool fails, it still answers from the
// model alone at reduced confidence.
type SearchAgent struct {
	id     string
	field  Field
	caller llm.Caller
	tools  []SearchTool
	cfg    SearchAgentConfig
	logger *zap.Logger
}

func NewSearchAgent(field Field, caller llm.Caller, tools []SearchTool, cfg SearchAgentConfig, logger *zap.Logger) *SearchAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchAgent{
		id:     "agent-" + string(field),
		field:  field,
		caller: caller,
		tools:  tools,
		cfg:    cfg.withDefaults(),
		logger: logger.With(zap.String("component", "search_agent"), zap.String("field", string(field))),
	}
}

func (a *SearchAgent) ID() string    { return a.id }
func (a *SearchAgent) Field() string { return string(a.field) }

func (a *SearchAgent) Research(ctx context.Context, query string) (*ResearchResult, error) {
	if a.caller == nil {
		return nil, types.NewError(types.ErrInternalError, "search agent has no model caller")
	}

	docs := a.gather(ctx, query)

	var sb strings.Builder
	sb.WriteString("Query: ")
	sb.WriteString(query)
	if len(docs) > 0 {
		sb.WriteString("\n\nLiterature:\n")
		for i, d := range docs {
			if i >= a.cfg.MaxContextDocs {
				break
			}
			fmt.Fprintf(&sb, "[%d] %s\n%s\n\n", i+1, d.Title, d.Excerpt(400))
		}
	} else {
		sb.WriteString("\n\nNo literature was found. Answer from established knowledge and say so in the summary.")
	}

	system := fmt.Sprintf(researchSystemTemplate, a.field.DisplayName())
	raw, err := a.caller.Call(ctx, system, sb.String())
	if err != nil {
		return nil, err
	}

	result := &ResearchResult{
		AgentID:   a.id,
		Field:     string(a.field),
		Documents: docs,
	}
	if parsed := parseAnalysis(raw); parsed != nil {
		result.Summary = parsed.Summary
		result.Insights = parsed.Insights
		result.Confidence = clamp01(parsed.Confidence)
	} else {
		// Unstructured output still carries value; keep it whole.
		result.Summary = strings.TrimSpace(raw)
		result.Confidence = 0.3
	}
	if len(docs) == 0 && result.Confidence > 0.5 {
		result.Confidence = 0.5
	}
	return result, nil
}

// gather fans out over the tools sequentially. A failing tool is
// logged and skipped; duplicates collapse by document ID.
func (a *SearchAgent) gather(ctx context.Context, query string) []types.Document {
	seen := make(map[string]struct{})
	var docs []types.Document
	for _, tool := range a.tools {
		if ctx.Err() != nil {
			break
		}
		found, err := tool.Search(ctx, query, a.cfg.MaxResults)
		if err != nil {
			a.logger.Warn("search tool failed", zap.String("tool", tool.Name()), zap.Error(err))
			continue
		}
		for _, d := range found {
			if _, dup := seen[d.ID]; dup {
				continue
			}
			seen[d.ID] = struct{}{}
			docs = append(docs, d)
		}
	}
	return docs
}

type analysis struct {
	Summary    string   `json:"summary"`
	Insights   []string `json:"insights"`
	Confidence float64  `json:"confidence"`
}

func parseAnalysis(raw string) *analysis {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil
	}
	var out analysis
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return nil
	}
	if strings.TrimSpace(out.Summary) == "" {
		return nil
	}
	return &out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
