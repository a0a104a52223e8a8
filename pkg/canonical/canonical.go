package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/soundprediction/kgindex/pkg/types"
)

// descriptionPrefixLen bounds how much of the description participates in
// the canonical id. Including a prefix keeps unrelated concepts that share
// a short name from colliding while staying deterministic.
const descriptionPrefixLen = 100

// Canonicalizer normalizes entity names and derives stable canonical ids.
// All methods are pure functions over their inputs.
type Canonicalizer struct {
	// preserveCase holds names that are case-significant (domain
	// abbreviations). Matching is exact against the raw name.
	preserveCase map[string]struct{}
	// threshold is the cosine-similarity bar for the fuzzy merge path.
	threshold float64
	// fuzzyEnabled gates the embedding-based merge path.
	fuzzyEnabled bool
	// rawNames skips normalization entirely: names pass through as-is and
	// canonical ids hash the raw name.
	rawNames bool
}

// Option configures a Canonicalizer.
type Option func(*Canonicalizer)

// WithPreservedCase sets the exact-match set of case-significant names.
func WithPreservedCase(names []string) Option {
	return func(c *Canonicalizer) {
		for _, n := range names {
			c.preserveCase[n] = struct{}{}
		}
	}
}

// WithFuzzyMerge enables embedding-similarity merging above threshold.
func WithFuzzyMerge(threshold float64) Option {
	return func(c *Canonicalizer) {
		c.fuzzyEnabled = true
		c.threshold = threshold
	}
}

// WithRawNames disables normalization: Normalize becomes the identity and
// entities are keyed by their raw extracted names.
func WithRawNames() Option {
	return func(c *Canonicalizer) {
		c.rawNames = true
	}
}

// New creates a Canonicalizer.
func New(opts ...Option) *Canonicalizer {
	c := &Canonicalizer{
		preserveCase: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Threshold returns the fuzzy-merge similarity threshold.
func (c *Canonicalizer) Threshold() float64 {
	return c.threshold
}

// FuzzyEnabled reports whether the embedding merge path is active.
func (c *Canonicalizer) FuzzyEnabled() bool {
	return c.fuzzyEnabled
}

// Normalize folds an entity name to its canonical textual form: NFKC
// normalization, lowercasing, whitespace collapsing, and punctuation
// removal except internal hyphens. Names in the case-preservation set skip
// lowercasing and punctuation stripping and only get NFKC folding plus
// whitespace collapsing. With raw names enabled the input is returned
// unchanged.
func (c *Canonicalizer) Normalize(name string) string {
	if c.rawNames {
		return name
	}
	if _, ok := c.preserveCase[name]; ok {
		folded := norm.NFKC.String(strings.TrimSpace(name))
		return strings.Join(strings.Fields(folded), " ")
	}

	folded := norm.NFKC.String(strings.ToLower(strings.TrimSpace(name)))

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
		case r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
		// Everything else (punctuation, symbols) is dropped.
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// CanonicalID derives the stable canonical id for an entity: the first 16
// hex characters of sha256(normalizedName + "::" + description[:100]).
// The description prefix is measured in runes so a multi-byte character is
// never split. A nil or empty description is treated as the empty string.
func (c *Canonicalizer) CanonicalID(name, description string) string {
	desc := description
	if runes := []rune(desc); len(runes) > descriptionPrefixLen {
		desc = string(runes[:descriptionPrefixLen])
	}
	content := c.Normalize(name) + "::" + desc
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// ShouldMerge decides whether an existing entity and a candidate describe
// the same concept. Exact canonical-id equality always wins and never
// requires an embedding. The fuzzy path compares description embeddings by
// cosine similarity against the configured threshold and only applies when
// enabled.
func (c *Canonicalizer) ShouldMerge(existing, candidate *types.Entity) bool {
	if existing == nil || candidate == nil {
		return false
	}
	if existing.ID != "" && existing.ID == candidate.ID {
		return true
	}
	if !c.fuzzyEnabled {
		return false
	}
	if len(existing.Embedding) == 0 || len(candidate.Embedding) == 0 {
		return false
	}
	return CosineSimilarity(existing.Embedding, candidate.Embedding) >= c.threshold
}

// CosineSimilarity computes the cosine similarity of two vectors.
// Mismatched or zero-length vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
