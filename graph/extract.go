package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/sciflow/llm"
	"github.com/BaSui01/sciflow/types"
)

const extractSystemPrompt = `You are an expert at extracting scientific concepts and relationships from research papers.

Extract:
1. Entities: materials, methods, properties, mechanisms, processes, applications
2. Relationships: how entities relate ("possesses", "enables", "improves", "requires", "is_composed_of", "exhibits")

Return only a JSON object, no markdown formatting:
{"entities": ["entity1", "entity2"], "relationships": [["source", "relation", "target"]]}`

const schemaReminder = `

REMINDER: the previous response was not valid. Return ONLY the JSON object matching
{"entities": [string], "relationships": [[string, string, string]]} with no code fences and no prose.`

// Extraction is the structured output of one document's concept
// extraction.
type Extraction struct {
	Entities      []string   `json:"entities"`
	Relationships [][]string `json:"relationships"`
	Fallback      bool       `json:"-"` // true when the heuristic extractor produced it
}

// Extractor turns documents into entities and relationships. It tries
// a structured LLM call, re-prompts once on malformed output, and then
// falls back to a heuristic so ingestion never drops a document.
type Extractor struct {
	caller llm.Caller
	logger *zap.Logger
}

// NewExtractor creates an extractor. caller may be nil, which forces
// the heuristic path (useful offline and in tests).
func NewExtractor(caller llm.Caller, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		caller: caller,
		logger: logger.With(zap.String("component", "graph_extractor")),
	}
}

// Extract returns the entities and relationships of a document.
func (x *Extractor) Extract(ctx context.Context, doc types.Document) Extraction {
	if x.caller == nil {
		return x.heuristic(doc)
	}

	user := fmt.Sprintf("Extract entities and relationships from this research paper:\n\nTitle: %s\n\nContent:\n%s",
		doc.Title, doc.Excerpt(3000))

	raw, err := x.caller.Call(ctx, extractSystemPrompt, user)
	if err == nil {
		if extraction, parseErr := parseExtraction(raw); parseErr == nil {
			return extraction
		}
		// One re-prompt with an explicit schema reminder before degrading.
		raw, err = x.caller.Call(ctx, extractSystemPrompt+schemaReminder, user)
		if err == nil {
			if extraction, parseErr := parseExtraction(raw); parseErr == nil {
				return extraction
			}
			x.logger.Warn("extraction output malformed after re-prompt, using heuristic",
				zap.String("document", doc.ID),
			)
		}
	}
	if err != nil {
		x.logger.Warn("extraction call failed, using heuristic",
			zap.String("document", doc.ID),
			zap.Error(err),
		)
	}
	return x.heuristic(doc)
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

func parseExtraction(raw string) (Extraction, error) {
	text := raw
	if match := jsonObjectPattern.FindString(raw); match != "" {
		text = match
	}

	var extraction Extraction
	if err := json.Unmarshal([]byte(text), &extraction); err != nil {
		return Extraction{}, types.NewError(types.ErrMalformedOutput, "extraction is not valid JSON").WithCause(err)
	}
	if len(extraction.Entities) == 0 && len(extraction.Relationships) == 0 {
		return Extraction{}, types.NewError(types.ErrMalformedOutput, "extraction is empty")
	}

	// Drop malformed triples instead of rejecting the whole response.
	valid := extraction.Relationships[:0]
	for _, rel := range extraction.Relationships {
		if len(rel) == 3 && rel[0] != "" && rel[2] != "" {
			valid = append(valid, rel)
		}
	}
	extraction.Relationships = valid
	return extraction, nil
}

var capitalizedPhrase = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)

// heuristic extracts capitalized phrases and salient title terms. It
// produces entities only; relationship discovery needs the model.
func (x *Extractor) heuristic(doc types.Document) Extraction {
	sample := doc.Title + " " + doc.Excerpt(500)

	seen := make(map[string]struct{})
	var entities []string
	add := func(candidate string) {
		candidate = strings.TrimSpace(candidate)
		if len(candidate) <= 3 {
			return
		}
		key := NormalizeKey(candidate)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		entities = append(entities, candidate)
	}

	for _, phrase := range capitalizedPhrase.FindAllString(sample, -1) {
		add(phrase)
	}
	for _, word := range strings.Fields(doc.Title) {
		add(strings.Trim(word, ".,;:!?()[]\"'"))
	}

	const maxHeuristicEntities = 12
	if len(entities) > maxHeuristicEntities {
		entities = entities[:maxHeuristicEntities]
	}
	return Extraction{Entities: entities, Fallback: true}
}
