package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldValidAndDisplayName(t *testing.T) {
	for _, f := range AllFields() {
		assert.True(t, f.Valid(), string(f))
		assert.NotEmpty(t, f.DisplayName())
	}
	assert.False(t, Field("alchemy").Valid())
	assert.Equal(t, "alchemy", Field("alchemy").DisplayName())
	assert.Equal(t, "Artificial Intelligence", FieldAI.DisplayName())
}

func TestKeywordRoute_RanksByHitCount(t *testing.T) {
	// Two chemistry keywords, one physics keyword.
	fields := KeywordRoute("catalyst design for polymer photon emission", 3)
	require.NotEmpty(t, fields)
	assert.Equal(t, FieldChemistry, fields[0])
	assert.Contains(t, fields, FieldPhysics)
}

func TestKeywordRoute_TiesBreakInRegistryOrder(t *testing.T) {
	// One physics keyword and one biology keyword; physics registers first.
	fields := KeywordRoute("quantum effects in protein folding", 2)
	require.Len(t, fields, 2)
	assert.Equal(t, FieldPhysics, fields[0])
	assert.Equal(t, FieldBiology, fields[1])
}

func TestKeywordRoute_RespectsMax(t *testing.T) {
	fields := KeywordRoute("quantum molecule gene drug algorithm theorem brain transformer", 2)
	assert.Len(t, fields, 2)
}

func TestKeywordRoute_FallbackWhenNoHits(t *testing.T) {
	fields := KeywordRoute("completely unrelated gardening question", 3)
	assert.Equal(t, []Field{FieldAI, FieldCS}, fields)

	fields = KeywordRoute("completely unrelated gardening question", 1)
	assert.Equal(t, []Field{FieldAI}, fields)
}

func TestKeywordRoute_ZeroMaxMeansOne(t *testing.T) {
	fields := KeywordRoute("quantum entanglement", 0)
	assert.Equal(t, []Field{FieldPhysics}, fields)
}
