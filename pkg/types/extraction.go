package types

// ExtractedEntity is a candidate entity produced by the extraction
// collaborator before canonicalization.
type ExtractedEntity struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	EntityType  string         `json:"entity_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ExtractedRelationship is a candidate relationship produced by the
// extraction collaborator. Source and target reference entities by their
// extracted names; resolution to canonical ids happens during application.
type ExtractedRelationship struct {
	SourceEntityName string  `json:"source_entity_name"`
	TargetEntityName string  `json:"target_entity_name"`
	Description      string  `json:"description"`
	RelationshipType string  `json:"relationship_type"`
	Confidence       float64 `json:"confidence"`
}

// Extraction is the full candidate graph fragment for one chunk. The
// extraction collaborator may return malformed or empty fragments; callers
// treat those as single-chunk failures, never fatal errors.
type Extraction struct {
	Entities      []ExtractedEntity      `json:"entities"`
	Relationships []ExtractedRelationship `json:"relationships"`
}

// Empty reports whether the extraction produced no usable fragment.
func (e *Extraction) Empty() bool {
	return e == nil || (len(e.Entities) == 0 && len(e.Relationships) == 0)
}
