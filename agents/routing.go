package agents

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/sciflow/llm"
)

const routeSystemPrompt = `You are a research coordinator. Given a research query, select the
most relevant scientific fields to investigate it from. Choose only
from this list:

  physics, chemistry, biology, medicine, computer_science,
  artificial_intelligence, mathematics, neuroscience

Respond with a JSON array of field identifiers, most relevant first,
for example: ["biology", "chemistry"]. No other text.`

var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// Router assigns research fields to a query. It asks the routing model
// first and falls back to keyword matching when the model is missing,
// errors, or returns nothing usable.
type Router struct {
	caller llm.Caller
	logger *zap.Logger
}

func NewRouter(caller llm.Caller, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		caller: caller,
		logger: logger.With(zap.String("component", "router")),
	}
}

// Route returns 1..max fields for the query. It never fails: routing
// degradation is logged, not surfaced.
func (r *Router) Route(ctx context.Context, query string, max int) []Field {
	if max <= 0 {
		max = 1
	}
	if r.caller == nil {
		return KeywordRoute(query, max)
	}

	raw, err := r.caller.Call(ctx, routeSystemPrompt, query)
	if err != nil {
		r.logger.Warn("routing model failed, falling back to keywords", zap.Error(err))
		return KeywordRoute(query, max)
	}
	fields := parseFields(raw)
	if len(fields) == 0 {
		r.logger.Warn("routing model returned no usable fields", zap.String("raw", truncate(raw, 200)))
		return KeywordRoute(query, max)
	}
	if len(fields) > max {
		fields = fields[:max]
	}
	return fields
}

func parseFields(raw string) []Field {
	m := jsonArrayPattern.FindString(raw)
	if m == "" {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(m), &names); err != nil {
		return nil
	}
	seen := make(map[Field]struct{})
	var out []Field
	for _, n := range names {
		f := Field(strings.ToLower(strings.TrimSpace(n)))
		if !f.Valid() {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
