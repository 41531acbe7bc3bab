package vector

import (
	"context"
	"time"

	"github.com/polyagents/polyagents/pkg/models"
)

// Embedder turns texts into vectors. Satisfied by HashingEmbedder.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Indexer writes completed conversations into the store so future
// prompts can find them by similarity.
type Indexer struct {
	embedder Embedder
	store    *Store
}

// NewIndexer composes an embedder and a connected store.
func NewIndexer(embedder Embedder, store *Store) *Indexer {
	return &Indexer{embedder: embedder, store: store}
}

// Index embeds a compact summary of the conversation, the prompt plus
// the final answer, and upserts it keyed by conversation id.
func (ix *Indexer) Index(ctx context.Context, r *models.ConversationResult) error {
	summary := r.Prompt + "\n\n" + r.FinalAnswer

	vectors, err := ix.embedder.Embed(ctx, []string{summary})
	if err != nil {
		return err
	}

	metadata := map[string]any{
		"total_turns":    r.TotalTurns,
		"total_messages": r.TotalMessages,
		"created_at":     r.CreatedAt.Format(time.RFC3339),
	}
	return ix.store.Upsert(ctx, r.ConversationID, summary, vectors[0], metadata)
}
