package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeExtraction(t *testing.T) {
	content := `{
		"entities": [
			{"name": "TiDB", "description": "a distributed SQL database", "entity_type": "technology"}
		],
		"relationships": [
			{"source_entity_name": "TiDB", "target_entity_name": "MySQL", "relationship_type": "reference", "confidence": 0.8}
		]
	}`

	extraction, err := decodeExtraction(content)
	require.NoError(t, err)
	require.Len(t, extraction.Entities, 1)
	require.Len(t, extraction.Relationships, 1)
	assert.Equal(t, "TiDB", extraction.Entities[0].Name)
	assert.Equal(t, 0.8, extraction.Relationships[0].Confidence)
}

func TestDecodeExtractionFencedOutput(t *testing.T) {
	content := "```json\n{\"entities\": [{\"name\": \"A\", \"description\": \"x\"}], \"relationships\": []}\n```"

	extraction, err := decodeExtraction(content)
	require.NoError(t, err)
	require.Len(t, extraction.Entities, 1)
	assert.Equal(t, "A", extraction.Entities[0].Name)
}

func TestDecodeExtractionRepairsMalformedJSON(t *testing.T) {
	// Trailing comma and single quotes, the usual model output problems.
	content := `{'entities': [{'name': 'A', 'description': 'x'},], 'relationships': []}`

	extraction, err := decodeExtraction(content)
	require.NoError(t, err)
	require.Len(t, extraction.Entities, 1)
	assert.Equal(t, "A", extraction.Entities[0].Name)
}

func TestDecodeExtractionGivesUp(t *testing.T) {
	_, err := decodeExtraction("this is not json at all {{{")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, stripCodeFences("```json\n{\"a\": 1}\n```"))
	assert.Equal(t, `{"a": 1}`, stripCodeFences("```\n{\"a\": 1}\n```"))
	assert.Equal(t, `{"a": 1}`, stripCodeFences(`{"a": 1}`))
}
