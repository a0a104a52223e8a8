package config

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultGraph(t *testing.T) {
	g := DefaultGraph()

	assert.True(t, g.Enabled)
	assert.True(t, g.CanonicalizationOn())
	assert.True(t, g.TypedRelationshipsOn())
	assert.True(t, g.SymmetricMirroringOn())
	assert.True(t, g.ParallelismOn())
	assert.Equal(t, 0.85, g.EntityDistanceThreshold)
	assert.Equal(t, 0.3, g.MinRelationshipConfidence)
	assert.Equal(t, 50, g.MaxEdgesPerEntity)
	assert.Equal(t, 30*time.Second, g.ChunkTimeout)
	assert.Contains(t, g.PreserveCaseEntities, "API")
	assert.NoError(t, g.Validate())
}

func TestFeatureTogglesGatedByMaster(t *testing.T) {
	g := DefaultGraph()
	g.Enabled = false

	// Individual toggles stay set, but the master switch wins.
	assert.False(t, g.CanonicalizationOn())
	assert.False(t, g.TypedRelationshipsOn())
	assert.False(t, g.SymmetricMirroringOn())
	assert.False(t, g.ParallelismOn())
}

func TestEffectiveDistanceThreshold(t *testing.T) {
	g := DefaultGraph()
	assert.Equal(t, 0.85, g.EffectiveDistanceThreshold())

	g.EntityDistanceThreshold = 0.9
	assert.Equal(t, 0.9, g.EffectiveDistanceThreshold())

	// Zero means the enhanced default.
	g.EntityDistanceThreshold = 0
	assert.Equal(t, 0.85, g.EffectiveDistanceThreshold())

	// Legacy mode always uses the legacy threshold.
	g.Enabled = false
	g.EntityDistanceThreshold = 0.9
	assert.Equal(t, 0.1, g.EffectiveDistanceThreshold())
}

func TestWorkerCount(t *testing.T) {
	g := Graph{}
	assert.Equal(t, runtime.NumCPU()+4, g.WorkerCount())

	g.MaxWorkers = 3
	assert.Equal(t, 3, g.WorkerCount())
}

func TestGraphValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Graph)
		wantErr bool
	}{
		{"defaults", func(g *Graph) {}, false},
		{"confidence too high", func(g *Graph) { g.MinRelationshipConfidence = 1.5 }, true},
		{"confidence negative", func(g *Graph) { g.MinRelationshipConfidence = -0.1 }, true},
		{"threshold too high", func(g *Graph) { g.EntityDistanceThreshold = 2 }, true},
		{"negative edge cap", func(g *Graph) { g.MaxEdgesPerEntity = -1 }, true},
		{"negative workers", func(g *Graph) { g.MaxWorkers = -1 }, true},
		{"negative timeout", func(g *Graph) { g.ChunkTimeout = -time.Second }, true},
		{"boundary confidence", func(g *Graph) { g.MinRelationshipConfidence = 1.0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := DefaultGraph()
			tt.mutate(&g)
			err := g.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
