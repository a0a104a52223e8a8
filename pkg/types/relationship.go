package types

import (
	"time"
)

// RelationType is the closed enumeration of semantic relationship types.
// Unknown strings fall back to RelationGeneric rather than failing.
type RelationType string

const (
	RelationHypernym   RelationType = "hypernym"
	RelationHyponym    RelationType = "hyponym"
	RelationMeronym    RelationType = "meronym"
	RelationHolonym    RelationType = "holonym"
	RelationSynonym    RelationType = "synonym"
	RelationAntonym    RelationType = "antonym"
	RelationCausal     RelationType = "causal"
	RelationTemporal   RelationType = "temporal"
	RelationDependency RelationType = "dependency"
	RelationReference  RelationType = "reference"
	RelationGeneric    RelationType = "generic"
)

// baseWeights captures the semantic strength of each relation type.
// Taxonomic relations rank highest, generic catch-all lowest.
var baseWeights = map[RelationType]float64{
	RelationHypernym:   1.0,
	RelationHyponym:    1.0,
	RelationSynonym:    0.95,
	RelationMeronym:    0.9,
	RelationHolonym:    0.9,
	RelationAntonym:    0.9,
	RelationDependency: 0.85,
	RelationCausal:     0.8,
	RelationTemporal:   0.7,
	RelationReference:  0.6,
	RelationGeneric:    0.5,
}

// ParseRelationType maps an extractor-provided string onto the closed
// enumeration, falling back to RelationGeneric for anything unrecognized.
func ParseRelationType(s string) RelationType {
	t := RelationType(s)
	if _, ok := baseWeights[t]; ok {
		return t
	}
	return RelationGeneric
}

// BaseWeight returns the fixed semantic strength of the relation type.
func (t RelationType) BaseWeight() float64 {
	if w, ok := baseWeights[t]; ok {
		return w
	}
	return baseWeights[RelationGeneric]
}

// Weight combines the type's semantic strength with extraction confidence
// into a bounded [0, 10] traversal score: confidence * base * 10.
func (t RelationType) Weight(confidence float64) float64 {
	return confidence * t.BaseWeight() * 10
}

// IsSymmetric reports whether edges of this type must also be materialized
// in the inverse direction. Exactly synonym and antonym are symmetric.
func (t RelationType) IsSymmetric() bool {
	return t == RelationSynonym || t == RelationAntonym
}

// Relationship is a typed, weighted edge between two entities. Relationships
// are immutable after creation; re-extraction from the same chunk is a no-op.
type Relationship struct {
	ID          string       `json:"id" mapstructure:"id"`
	SourceID    string       `json:"source_id" mapstructure:"source_id"`
	TargetID    string       `json:"target_id" mapstructure:"target_id"`
	Description string       `json:"description,omitempty" mapstructure:"description"`
	Type        RelationType `json:"type" mapstructure:"type"`

	// Confidence is the extractor's certainty in [0, 1].
	Confidence float64 `json:"confidence" mapstructure:"confidence"`
	// Weight is derived from Type and Confidence, in [0, 10].
	Weight float64 `json:"weight" mapstructure:"weight"`

	// ChunkID records the chunk this edge was extracted from. It doubles as
	// the idempotency marker: a chunk with any persisted relationship is
	// considered already ingested.
	ChunkID string `json:"chunk_id" mapstructure:"chunk_id"`

	CreatedAt time.Time `json:"created_at" mapstructure:"created_at"`
}

// Validate checks if the Relationship has all required fields set.
func (r *Relationship) Validate() error {
	if r.ID == "" {
		return ErrEmptyID
	}
	if r.SourceID == "" || r.TargetID == "" {
		return ErrEmptyID
	}
	return nil
}

// Inverse returns the mirrored edge (target, source) with the same type,
// confidence, weight, and provenance. The given id becomes the new edge id.
func (r *Relationship) Inverse(id string) *Relationship {
	return &Relationship{
		ID:          id,
		SourceID:    r.TargetID,
		TargetID:    r.SourceID,
		Description: r.Description,
		Type:        r.Type,
		Confidence:  r.Confidence,
		Weight:      r.Weight,
		ChunkID:     r.ChunkID,
		CreatedAt:   r.CreatedAt,
	}
}
