package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/sciflow/types"
)

// scriptedCaller replays canned responses.
type scriptedCaller struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (c *scriptedCaller) Call(_ context.Context, system, _ string) (string, error) {
	i := c.calls
	c.calls++
	c.prompts = append(c.prompts, system)
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

var grapheneDoc = types.Document{
	ID:    "doc-graphene",
	Title: "Graphene Oxide Membranes",
	Text:  "Graphene Oxide exhibits selective permeability. The membrane structure enables water filtration.",
}

func TestExtract_StructuredOutput(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"entities": ["Graphene Oxide", "membrane"], "relationships": [["Graphene Oxide", "enables", "water filtration"]]}`,
	}}
	x := NewExtractor(caller, zaptest.NewLogger(t))

	got := x.Extract(context.Background(), grapheneDoc)
	assert.False(t, got.Fallback)
	assert.Equal(t, []string{"Graphene Oxide", "membrane"}, got.Entities)
	require.Len(t, got.Relationships, 1)
	assert.Equal(t, []string{"Graphene Oxide", "enables", "water filtration"}, got.Relationships[0])
	assert.Equal(t, 1, caller.calls)
}

func TestExtract_JSONBuriedInProse(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		"Sure, here is the extraction:\n```json\n{\"entities\": [\"Graphene\"], \"relationships\": []}\n```\nHope that helps!",
	}}
	x := NewExtractor(caller, zaptest.NewLogger(t))

	got := x.Extract(context.Background(), grapheneDoc)
	assert.False(t, got.Fallback)
	assert.Equal(t, []string{"Graphene"}, got.Entities)
}

func TestExtract_RepromptOnceThenHeuristic(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		"I could not find any entities, sorry.",
		"still not json",
	}}
	x := NewExtractor(caller, zaptest.NewLogger(t))

	got := x.Extract(context.Background(), grapheneDoc)
	assert.True(t, got.Fallback)
	assert.NotEmpty(t, got.Entities, "heuristic still finds capitalized phrases")
	assert.Equal(t, 2, caller.calls)
	assert.Contains(t, caller.prompts[1], "REMINDER")
}

func TestExtract_RepromptRecovers(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		"not json at all",
		`{"entities": ["Membrane"], "relationships": []}`,
	}}
	x := NewExtractor(caller, zaptest.NewLogger(t))

	got := x.Extract(context.Background(), grapheneDoc)
	assert.False(t, got.Fallback)
	assert.Equal(t, []string{"Membrane"}, got.Entities)
}

func TestExtract_CallErrorFallsBack(t *testing.T) {
	caller := &scriptedCaller{errs: []error{errors.New("pool exhausted")}}
	x := NewExtractor(caller, zaptest.NewLogger(t))

	got := x.Extract(context.Background(), grapheneDoc)
	assert.True(t, got.Fallback)
	assert.NotEmpty(t, got.Entities)
}

func TestExtract_NilCallerUsesHeuristic(t *testing.T) {
	x := NewExtractor(nil, zaptest.NewLogger(t))

	got := x.Extract(context.Background(), grapheneDoc)
	assert.True(t, got.Fallback)
	assert.Contains(t, got.Entities, "Graphene")
	assert.Empty(t, got.Relationships)
}

func TestParseExtraction_DropsMalformedTriples(t *testing.T) {
	got, err := parseExtraction(`{"entities": ["a"], "relationships": [["x", "r", "y"], ["too", "short"], ["", "r", "z"]]}`)
	require.NoError(t, err)
	require.Len(t, got.Relationships, 1)
	assert.Equal(t, []string{"x", "r", "y"}, got.Relationships[0])
}

func TestParseExtraction_RejectsEmpty(t *testing.T) {
	_, err := parseExtraction(`{"entities": [], "relationships": []}`)
	require.Error(t, err)
	assert.Equal(t, types.ErrMalformedOutput, types.GetErrorCode(err))
}

func TestHeuristic_BoundsAndDedup(t *testing.T) {
	x := NewExtractor(nil, zaptest.NewLogger(t))
	doc := types.Document{
		Title: "Alpha Beta Gamma Delta Epsilon Zeta Eta Theta Iota Kappa Lambda Mu Nu Xi Omicron",
		Text:  "Alpha Beta appears again. Alpha Beta once more.",
	}

	got := x.heuristic(doc)
	assert.LessOrEqual(t, len(got.Entities), 12)
	seen := make(map[string]struct{})
	for _, e := range got.Entities {
		key := NormalizeKey(e)
		_, dup := seen[key]
		assert.False(t, dup, "duplicate entity %q", e)
		seen[key] = struct{}{}
	}
}
