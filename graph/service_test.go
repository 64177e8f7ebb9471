package graph

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/sciflow/types"
)

func testDocs(n int) []types.Document {
	docs := make([]types.Document, n)
	for i := range docs {
		docs[i] = types.Document{
			ID:    fmt.Sprintf("doc-%d", i),
			Title: fmt.Sprintf("Paper %d", i),
			Text:  "Plasmonic Nanostructures concentrate light below the diffraction limit.",
		}
	}
	return docs
}

func TestServiceIngest_CountsAndGraphGrowth(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"entities": ["graphene", "membrane"], "relationships": [["graphene", "forms", "membrane"]]}`,
		`{"entities": ["membrane", "filtration"], "relationships": [["membrane", "enables", "filtration"]]}`,
	}}
	svc := NewService(NewExtractor(caller, zaptest.NewLogger(t)), DefaultServiceConfig(), zaptest.NewLogger(t))

	stats, err := svc.Ingest(context.Background(), testDocs(2))
	require.NoError(t, err)

	assert.Equal(t, 2, stats.DocumentsProcessed)
	assert.Equal(t, 0, stats.FallbackDocuments)
	assert.Equal(t, 3, stats.NodesTotal)
	assert.Equal(t, 2, stats.EdgesTotal)
	assert.Equal(t, svc.Graph().NodeCount(), stats.NodesTotal)
}

func TestServiceIngest_CountsFallbackDocuments(t *testing.T) {
	// First document parses, second exhausts the re-prompt and degrades.
	caller := &scriptedCaller{responses: []string{
		`{"entities": ["perovskite"], "relationships": []}`,
		`not json`,
		`still not json`,
	}}
	svc := NewService(NewExtractor(caller, zaptest.NewLogger(t)), DefaultServiceConfig(), zaptest.NewLogger(t))

	stats, err := svc.Ingest(context.Background(), testDocs(2))
	require.NoError(t, err)

	assert.Equal(t, 2, stats.DocumentsProcessed)
	assert.Equal(t, 1, stats.FallbackDocuments)
	assert.Greater(t, stats.NodesTotal, 1)
}

func TestServiceIngest_StopsOnCancelledContext(t *testing.T) {
	svc := NewService(NewExtractor(nil, nil), DefaultServiceConfig(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := svc.Ingest(ctx, testDocs(3))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, stats.DocumentsProcessed)
}

func TestServiceSamplePath_UsesConfiguredDefaults(t *testing.T) {
	svc := NewService(NewExtractor(nil, nil), ServiceConfig{
		PathStrategy: StrategyShortest,
		MaxSteps:     4,
		Seed:         7,
	}, zaptest.NewLogger(t))

	g := svc.Graph()
	g.ObserveEdge("catalyst", "accelerates", "reaction")
	g.ObserveEdge("reaction", "yields", "product")

	path := svc.SamplePath("catalyst product", "", 0)
	require.False(t, path.Empty())
	assert.Equal(t, []string{"catalyst", "reaction", "product"}, path.Nodes)
	assert.Equal(t, "catalyst --accelerates--> reaction --yields--> product", path.Summary)
}

func TestServiceSamplePath_SeedReproducibility(t *testing.T) {
	build := func() *Service {
		svc := NewService(NewExtractor(nil, nil), ServiceConfig{
			PathStrategy: StrategyRandom,
			MaxSteps:     6,
			Seed:         42,
		}, zaptest.NewLogger(t))
		g := svc.Graph()
		g.ObserveEdge("alpha", "links", "beta")
		g.ObserveEdge("alpha", "links", "gamma")
		g.ObserveEdge("beta", "links", "delta")
		g.ObserveEdge("gamma", "links", "delta")
		g.ObserveEdge("delta", "links", "epsilon")
		return svc
	}

	first := build().SamplePath("alpha", StrategyRandom, 6)
	second := build().SamplePath("alpha", StrategyRandom, 6)
	assert.Equal(t, first.Nodes, second.Nodes)
}

func TestServiceSamplePath_NoMatchReturnsEmptyPath(t *testing.T) {
	svc := NewService(NewExtractor(nil, nil), DefaultServiceConfig(), zaptest.NewLogger(t))

	path := svc.SamplePath("anything at all", StrategyRandom, 5)
	assert.True(t, path.Empty())
	assert.Contains(t, path.Summary, "no concept in the graph")
}
