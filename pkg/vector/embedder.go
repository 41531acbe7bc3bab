package vector

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimensions matches the all-MiniLM family of sentence encoders, so a
// real model can replace the hashing embedder without re-creating the
// collection.
const DefaultDimensions = 384

// HashingEmbedder is a deterministic feature-hashing text embedder: tokens
// are folded into a fixed number of buckets with a sign bit, then the vector
// is L2-normalised. It has no notion of semantics beyond shared vocabulary,
// which is enough for clustering near-duplicate agent responses and for
// tests, and it needs no model downloads.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder creates an embedder producing vectors of dim
// dimensions. dim <= 0 falls back to DefaultDimensions.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	return &HashingEmbedder{dim: dim}
}

// Dimensions returns the embedding width.
func (e *HashingEmbedder) Dimensions() int {
	return e.dim
}

// Embed embeds each text independently. Texts with no tokens embed to the
// zero vector.
func (e *HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = e.embedOne(text)
	}
	return vectors, nil
}

func (e *HashingEmbedder) embedOne(text string) []float64 {
	vec := make([]float64, e.dim)

	for _, token := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()

		bucket := int(sum % uint64(e.dim))
		// One hash bit picks the sign, which keeps colliding tokens from
		// only ever reinforcing each other.
		sign := 1.0
		if sum&(1<<63) != 0 {
			sign = -1.0
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
