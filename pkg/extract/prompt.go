package extract

// extractionSystemPrompt instructs the model to produce typed entities and
// relationships with confidence scores as a single JSON object.
const extractionSystemPrompt = `Carefully analyze the provided text and identify all significant entities and the relationships between them.

1. Extract meaningful entities:
  - Identify significant nouns, proper nouns, and technical terminology representing concepts, agents, processes, mechanisms, or other substantial entities.
  - Choose names specific enough to carry meaning without additional context; avoid overly generic terms.
  - Give each entity a complete, comprehensive sentence as its description, not a few words.
  - Attach an entity_type (for example: concept, drug, condition, procedure, mechanism, organization) and any structured metadata as a JSON object.

2. Establish typed relationships with confidence scores:
  - Capture each relationship with accurate directionality reflecting the logical or functional dependency between entities.
  - Classify each relationship with exactly one semantic type:
    'hypernym' (broader concept), 'hyponym' (narrower concept), 'meronym' (part-of), 'holonym' (has-part), 'synonym' (same-as), 'antonym' (opposite-of), 'causal' (causes/enables), 'temporal' (before/after), 'dependency' (requires/depends-on), 'reference' (mentioned-in/cites), 'generic' (other).
  - Assign a confidence score in [0.0, 1.0]: 0.9+ for explicit statements, 0.7-0.8 for clear implications, 0.5-0.6 for weak inferences.
  - Source and target entity names must match entries in the entity list.

Respond with only a JSON object of the form:
{
  "entities": [{"name": "...", "description": "...", "entity_type": "...", "metadata": {}}],
  "relationships": [{"source_entity_name": "...", "target_entity_name": "...", "description": "...", "relationship_type": "...", "confidence": 0.8}]
}`
