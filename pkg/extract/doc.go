// Package extract defines the extraction collaborator boundary: the
// Extractor interface, an OpenAI-compatible implementation with lenient
// JSON decoding, and a circuit-breaking wrapper.
package extract
