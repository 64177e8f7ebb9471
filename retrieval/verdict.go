package retrieval

import "strings"

// VerdictKind is the judged sufficiency of a retrieval round.
type VerdictKind string

const (
	VerdictSufficient   VerdictKind = "sufficient"
	VerdictInsufficient VerdictKind = "insufficient"
	VerdictRefine       VerdictKind = "refine"
)

// Verdict is a parsed judgment. Query is set only for refine verdicts.
type Verdict struct {
	Kind  VerdictKind `json:"kind"`
	Query string      `json:"query,omitempty"`
}

// ParseVerdict interprets a judge response. Anything that is not
// clearly sufficient or a refinement counts as insufficient, so a
// rambling model answer can never accept weak results by accident.
func ParseVerdict(raw string) Verdict {
	text := strings.TrimSpace(raw)
	lower := strings.ToLower(text)

	if idx := strings.Index(lower, "refine:"); idx >= 0 {
		query := strings.TrimSpace(text[idx+len("refine:"):])
		if line := strings.IndexByte(query, '\n'); line >= 0 {
			query = strings.TrimSpace(query[:line])
		}
		query = strings.Trim(query, "\"'")
		if query != "" {
			return Verdict{Kind: VerdictRefine, Query: query}
		}
	}

	if strings.HasPrefix(lower, "sufficient") ||
		(strings.Contains(lower, "sufficient") && !strings.Contains(lower, "insufficient")) {
		return Verdict{Kind: VerdictSufficient}
	}
	return Verdict{Kind: VerdictInsufficient}
}
