package agents

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/sciflow/types"
)

func staticTool(name string, docs ...types.Document) SearchTool {
	return SearchToolFunc{
		ToolName: name,
		Fn: func(context.Context, string, int) ([]types.Document, error) {
			return docs, nil
		},
	}
}

func failingTool(name string) SearchTool {
	return SearchToolFunc{
		ToolName: name,
		Fn: func(context.Context, string, int) ([]types.Document, error) {
			return nil, errors.New("search backend unavailable")
		},
	}
}

func TestSearchAgentResearch_StructuredAnalysis(t *testing.T) {
	doc := types.Document{ID: "arxiv-1", Title: "Spin Qubits", Text: "Coherence times keep improving."}
	caller := &stubCaller{response: `{"summary": "Spin qubits are maturing.", "insights": ["coherence gains"], "confidence": 0.8}`}
	agent := NewSearchAgent(FieldPhysics, caller, []SearchTool{staticTool("arxiv", doc)}, SearchAgentConfig{}, zaptest.NewLogger(t))

	result, err := agent.Research(context.Background(), "spin qubit progress")
	require.NoError(t, err)

	assert.Equal(t, "agent-physics", result.AgentID)
	assert.Equal(t, "physics", result.Field)
	assert.Equal(t, "Spin qubits are maturing.", result.Summary)
	assert.Equal(t, []string{"coherence gains"}, result.Insights)
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "arxiv-1", result.Documents[0].ID)

	assert.Contains(t, caller.lastUser, "Spin Qubits")
	assert.Contains(t, caller.lastUser, "Query: spin qubit progress")
}

func TestSearchAgentResearch_UnstructuredOutputKeptWhole(t *testing.T) {
	caller := &stubCaller{response: "A plain prose answer without JSON."}
	agent := NewSearchAgent(FieldBiology, caller, nil, SearchAgentConfig{}, zaptest.NewLogger(t))

	result, err := agent.Research(context.Background(), "crispr off target effects")
	require.NoError(t, err)

	assert.Equal(t, "A plain prose answer without JSON.", result.Summary)
	assert.InDelta(t, 0.3, result.Confidence, 1e-9)
}

func TestSearchAgentResearch_NoLiteratureCapsConfidence(t *testing.T) {
	caller := &stubCaller{response: `{"summary": "Answering from established knowledge.", "confidence": 0.95}`}
	agent := NewSearchAgent(FieldMedicine, caller, nil, SearchAgentConfig{}, zaptest.NewLogger(t))

	result, err := agent.Research(context.Background(), "statin side effects")
	require.NoError(t, err)

	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
	assert.Contains(t, caller.lastUser, "No literature was found")
}

func TestSearchAgentResearch_FailingToolSkipped(t *testing.T) {
	doc := types.Document{ID: "pm-1", Title: "Trial Results", Text: "Phase two outcomes."}
	caller := &stubCaller{response: `{"summary": "ok", "confidence": 0.6}`}
	agent := NewSearchAgent(FieldMedicine, caller,
		[]SearchTool{failingTool("pubmed"), staticTool("web", doc)},
		SearchAgentConfig{}, zaptest.NewLogger(t))

	result, err := agent.Research(context.Background(), "trial outcomes")
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "pm-1", result.Documents[0].ID)
}

func TestSearchAgentResearch_DeduplicatesByDocumentID(t *testing.T) {
	doc := types.Document{ID: "shared", Title: "Shared Paper", Text: "Indexed twice."}
	caller := &stubCaller{response: `{"summary": "ok", "confidence": 0.6}`}
	agent := NewSearchAgent(FieldCS, caller,
		[]SearchTool{staticTool("a", doc), staticTool("b", doc)},
		SearchAgentConfig{}, zaptest.NewLogger(t))

	result, err := agent.Research(context.Background(), "consensus protocols")
	require.NoError(t, err)
	assert.Len(t, result.Documents, 1)
}

func TestSearchAgentResearch_ContextDocLimit(t *testing.T) {
	var docs []types.Document
	for i := 0; i < 5; i++ {
		docs = append(docs, types.Document{ID: fmt.Sprintf("d%d", i), Title: fmt.Sprintf("Paper %d", i), Text: "text"})
	}
	caller := &stubCaller{response: `{"summary": "ok", "confidence": 0.6}`}
	agent := NewSearchAgent(FieldCS, caller,
		[]SearchTool{staticTool("bulk", docs...)},
		SearchAgentConfig{MaxContextDocs: 2}, zaptest.NewLogger(t))

	result, err := agent.Research(context.Background(), "anything")
	require.NoError(t, err)

	// All documents are kept for downstream ingestion; only the prompt is bounded.
	assert.Len(t, result.Documents, 5)
	assert.Contains(t, caller.lastUser, "Paper 1")
	assert.NotContains(t, caller.lastUser, "Paper 2")
}

func TestSearchAgentResearch_ConfidenceClamped(t *testing.T) {
	caller := &stubCaller{response: `{"summary": "overconfident", "confidence": 7}`}
	doc := types.Document{ID: "d", Title: "T", Text: "x"}
	agent := NewSearchAgent(FieldAI, caller, []SearchTool{staticTool("t", doc)}, SearchAgentConfig{}, zaptest.NewLogger(t))

	result, err := agent.Research(context.Background(), "q")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)
}

func TestSearchAgentResearch_ModelErrorPropagates(t *testing.T) {
	caller := &stubCaller{err: errors.New("rate limited")}
	agent := NewSearchAgent(FieldAI, caller, nil, SearchAgentConfig{}, zaptest.NewLogger(t))

	_, err := agent.Research(context.Background(), "q")
	require.Error(t, err)
}

func TestSearchAgentResearch_NilCaller(t *testing.T) {
	agent := NewSearchAgent(FieldAI, nil, nil, SearchAgentConfig{}, zaptest.NewLogger(t))

	_, err := agent.Research(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrInternalError))
}

func TestParseAnalysis(t *testing.T) {
	assert.Nil(t, parseAnalysis("no json"))
	assert.Nil(t, parseAnalysis(`{"summary": "   "}`))
	got := parseAnalysis(`prefix {"summary": "s", "confidence": 0.4} suffix`)
	require.NotNil(t, got)
	assert.Equal(t, "s", got.Summary)
}
