package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyagents/polyagents/pkg/config"
	"github.com/polyagents/polyagents/pkg/fault"
)

func newStoreForTest(t *testing.T, serverURL string) *Store {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return NewStore(config.QdrantConfig{
		Enabled:    true,
		Host:       u.Hostname(),
		Port:       port,
		Collection: "conversation_memory",
		VectorSize: 4,
	})
}

func collectionsResponse(names ...string) map[string]any {
	collections := make([]map[string]any, 0, len(names))
	for _, name := range names {
		collections = append(collections, map[string]any{"name": name})
	}
	return map[string]any{"result": map[string]any{"collections": collections}}
}

func TestStore_ConnectCreatesMissingCollection(t *testing.T) {
	var created map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections":
			json.NewEncoder(w).Encode(collectionsResponse("unrelated"))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/conversation_memory":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			json.NewEncoder(w).Encode(map[string]any{"result": true})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	store := newStoreForTest(t, server.URL)
	require.NoError(t, store.Connect(context.Background()))

	require.NotNil(t, created, "collection should be created")
	vectors := created["vectors"].(map[string]any)
	assert.EqualValues(t, 4, vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])
}

func TestStore_ConnectSkipsExistingCollection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/collections" {
			json.NewEncoder(w).Encode(collectionsResponse("conversation_memory"))
			return
		}
		t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
	}))
	defer server.Close()

	store := newStoreForTest(t, server.URL)
	require.NoError(t, store.Connect(context.Background()))
}

func TestStore_UpsertSendsPoint(t *testing.T) {
	var body map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/collections/conversation_memory/points", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"status": "acknowledged"}})
	}))
	defer server.Close()

	store := newStoreForTest(t, server.URL)
	err := store.Upsert(context.Background(), "conv-1", "a chat about caching",
		[]float64{0.5, 0.5, 0.5, 0.5}, map[string]any{"turns": 2})
	require.NoError(t, err)

	points := body["points"].([]any)
	require.Len(t, points, 1)
	point := points[0].(map[string]any)
	assert.Equal(t, "conv-1", point["id"])
	payload := point["payload"].(map[string]any)
	assert.Equal(t, "conv-1", payload["conversation_id"])
	assert.Equal(t, "a chat about caching", payload["summary"])
	assert.EqualValues(t, 2, payload["metadata"].(map[string]any)["turns"])
}

func TestStore_SearchSimilarMapsHits(t *testing.T) {
	var body map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/collections/conversation_memory/points/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{
				{
					"id":    "conv-9",
					"score": 0.91,
					"payload": map[string]any{
						"conversation_id": "conv-9",
						"summary":         "caching strategies",
						"metadata":        map[string]any{"turns": 3},
					},
				},
			},
		})
	}))
	defer server.Close()

	store := newStoreForTest(t, server.URL)
	hits, err := store.SearchSimilar(context.Background(), []float64{1, 0, 0, 0}, 5, 0.7)
	require.NoError(t, err)

	require.Len(t, hits, 1)
	assert.Equal(t, "conv-9", hits[0].ConversationID)
	assert.Equal(t, "caching strategies", hits[0].Summary)
	assert.InDelta(t, 0.91, hits[0].Score, 0.0001)
	assert.EqualValues(t, 3, hits[0].Metadata["turns"])

	assert.InDelta(t, 0.7, body["score_threshold"], 0.0001)
	assert.Equal(t, true, body["with_payload"])
	assert.EqualValues(t, 5, body["limit"])
}

func TestStore_ContextDegradesToEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	store := newStoreForTest(t, server.URL)
	hits := store.Context(context.Background(), []float64{1, 0, 0, 0}, 3)
	assert.Empty(t, hits)
}

func TestStore_PingUnreachableIsDependency(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	store := newStoreForTest(t, server.URL)
	err := store.Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, fault.KindDependency, fault.KindOf(err))
}
