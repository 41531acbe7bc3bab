// Package vector provides optional long-term conversation memory backed by
// Qdrant. The store keeps one embedding per completed conversation so future
// prompts can pull in semantically similar history.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/polyagents/polyagents/pkg/config"
	"github.com/polyagents/polyagents/pkg/fault"
)

// SimilarConversation is one semantic-search hit.
type SimilarConversation struct {
	ConversationID string         `json:"conversation_id"`
	Summary        string         `json:"summary"`
	Score          float64        `json:"similarity_score"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Store is a Qdrant REST client scoped to a single collection.
type Store struct {
	baseURL    string
	collection string
	vectorSize int
	httpClient *http.Client
}

// NewStore creates a store from configuration. Call Connect before use.
func NewStore(cfg config.QdrantConfig) *Store {
	return &Store{
		baseURL:    cfg.BaseURL(),
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Connect verifies Qdrant is reachable and creates the collection if it does
// not exist yet (cosine distance, configured vector size).
func (s *Store) Connect(ctx context.Context) error {
	const op = "vector.connect"

	names, err := s.listCollections(ctx)
	if err != nil {
		return fault.Wrap(fault.KindDependency, op, err)
	}

	for _, name := range names {
		if name == s.collection {
			return nil
		}
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.vectorSize,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, "/collections/"+s.collection, body, nil); err != nil {
		return fault.Wrap(fault.KindDependency, op, err)
	}

	slog.Info("Created Qdrant collection", "collection", s.collection, "vector_size", s.vectorSize)
	return nil
}

// Upsert stores a conversation embedding keyed by conversation id, replacing
// any previous point for the same conversation.
func (s *Store) Upsert(ctx context.Context, conversationID, summary string, vector []float64, metadata map[string]any) error {
	const op = "vector.upsert"

	if metadata == nil {
		metadata = map[string]any{}
	}
	body := map[string]any{
		"points": []map[string]any{
			{
				"id":     conversationID,
				"vector": vector,
				"payload": map[string]any{
					"conversation_id": conversationID,
					"summary":         summary,
					"metadata":        metadata,
				},
			},
		},
	}
	if err := s.do(ctx, http.MethodPut, "/collections/"+s.collection+"/points", body, nil); err != nil {
		return fault.Wrap(fault.KindDependency, op, err)
	}

	slog.Debug("Stored conversation embedding", "conversation_id", conversationID)
	return nil
}

// SearchSimilar returns conversations whose stored embeddings are within the
// score threshold of the query vector, best match first.
func (s *Store) SearchSimilar(ctx context.Context, vector []float64, limit int, scoreThreshold float64) ([]SimilarConversation, error) {
	const op = "vector.search"

	if limit <= 0 {
		limit = 5
	}

	body := map[string]any{
		"vector":          vector,
		"limit":           limit,
		"score_threshold": scoreThreshold,
		"with_payload":    true,
	}

	var out struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload struct {
				ConversationID string         `json:"conversation_id"`
				Summary        string         `json:"summary"`
				Metadata       map[string]any `json:"metadata"`
			} `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/search", body, &out); err != nil {
		return nil, fault.Wrap(fault.KindDependency, op, err)
	}

	hits := make([]SimilarConversation, 0, len(out.Result))
	for _, hit := range out.Result {
		hits = append(hits, SimilarConversation{
			ConversationID: hit.Payload.ConversationID,
			Summary:        hit.Payload.Summary,
			Score:          hit.Score,
			Metadata:       hit.Payload.Metadata,
		})
	}
	return hits, nil
}

// Context returns similar conversations for a prompt embedding, degrading to
// an empty slice when the store is unreachable. Memory is best effort; a
// vector outage must never fail a conversation.
func (s *Store) Context(ctx context.Context, vector []float64, limit int) []SimilarConversation {
	hits, err := s.SearchSimilar(ctx, vector, limit, 0.7)
	if err != nil {
		slog.Warn("Vector context lookup failed, continuing without memory", "error", err)
		return nil
	}
	return hits
}

// Ping checks Qdrant reachability.
func (s *Store) Ping(ctx context.Context) error {
	const op = "vector.ping"
	if _, err := s.listCollections(ctx); err != nil {
		return fault.Wrap(fault.KindDependency, op, err)
	}
	return nil
}

func (s *Store) listCollections(ctx context.Context) ([]string, error) {
	var out struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, "/collections", nil, &out); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(out.Result.Collections))
	for _, c := range out.Result.Collections {
		names = append(names, c.Name)
	}
	return names, nil
}

func (s *Store) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
