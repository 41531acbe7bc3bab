// Package consensus distills a set of agent responses into a single
// answer. Three algorithms are available: first-line majority voting with
// deterministic tie-breaking, semantic clustering over message embeddings,
// and LLM-backed synthesis of per-agent summaries. The algorithm is fixed
// at construction and one engine is shared across conversations.
package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/polyagents/polyagents/pkg/fault"
	"github.com/polyagents/polyagents/pkg/models"
)

// Algorithm names accepted by NewEngine.
const (
	AlgorithmMajorityVote = "majority_vote"
	AlgorithmSemantic     = "semantic"
	AlgorithmSynthesis    = "synthesis"
)

// userPromptFallback stands in for the user's question when the consensus
// input carries no user message.
const userPromptFallback = "User's original question"

// synthesisConfidence is reported on every synthesis outcome.
const synthesisConfidence = 0.9

// Embedder maps texts to vectors for semantic clustering.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Clusterer partitions vectors into k groups.
type Clusterer interface {
	Cluster(vectors [][]float64, k int) (*Clustering, error)
}

// Summarizer condenses one agent response.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Fuser merges agent summaries into one answer to the user's question.
type Fuser interface {
	Fuse(ctx context.Context, userPrompt string, summaries []string) (string, error)
}

// Deps are the capabilities the algorithms draw on. Majority voting needs
// none of them. Semantic clustering needs an Embedder; the Clusterer
// defaults to seeded k-means. Synthesis needs a Summarizer and a Fuser.
type Deps struct {
	Embedder   Embedder
	Clusterer  Clusterer
	Summarizer Summarizer
	Fuser      Fuser
}

// Engine applies the configured consensus algorithm to agent messages.
type Engine struct {
	algorithm  string
	embedder   Embedder
	clusterer  Clusterer
	summarizer Summarizer
	fuser      Fuser
}

// NewEngine validates the algorithm name and the capabilities it needs,
// so a misconfigured deployment fails at boot rather than on the first
// conversation.
func NewEngine(algorithm string, deps Deps) (*Engine, error) {
	const op = "consensus.NewEngine"

	switch algorithm {
	case AlgorithmMajorityVote, AlgorithmSemantic, AlgorithmSynthesis:
	default:
		return nil, &fault.Error{
			Kind:    fault.KindConfiguration,
			Op:      op,
			Message: "unknown consensus algorithm: " + algorithm,
		}
	}

	if deps.Clusterer == nil {
		deps.Clusterer = NewKMeans()
	}
	if algorithm == AlgorithmSemantic && deps.Embedder == nil {
		return nil, &fault.Error{
			Kind:    fault.KindConfiguration,
			Op:      op,
			Message: "semantic consensus requires an embedder",
		}
	}
	if algorithm == AlgorithmSynthesis && (deps.Summarizer == nil || deps.Fuser == nil) {
		return nil, &fault.Error{
			Kind:    fault.KindConfiguration,
			Op:      op,
			Message: "synthesis consensus requires a summarizer and a fuser",
		}
	}

	return &Engine{
		algorithm:  algorithm,
		embedder:   deps.Embedder,
		clusterer:  deps.Clusterer,
		summarizer: deps.Summarizer,
		fuser:      deps.Fuser,
	}, nil
}

// Algorithm returns the configured algorithm name.
func (e *Engine) Algorithm() string {
	return e.algorithm
}

// ReachConsensus applies the configured algorithm. A single input message
// short-circuits to a single_response outcome regardless of algorithm.
func (e *Engine) ReachConsensus(ctx context.Context, messages []*models.Message) (*models.ConsensusOutcome, error) {
	const op = "consensus.ReachConsensus"

	if len(messages) == 0 {
		return nil, &fault.Error{
			Kind:    fault.KindInvalidInput,
			Op:      op,
			Message: "cannot reach consensus on an empty message list",
		}
	}
	if len(messages) == 1 {
		return singleResponse(messages[0]), nil
	}

	switch e.algorithm {
	case AlgorithmMajorityVote:
		return e.majorityVote(messages)
	case AlgorithmSemantic:
		return e.semantic(ctx, messages)
	case AlgorithmSynthesis:
		return e.synthesis(ctx, messages)
	}
	// Unreachable through NewEngine; guards a zero-value Engine.
	return nil, &fault.Error{
		Kind:    fault.KindConfiguration,
		Op:      op,
		Message: "unknown consensus algorithm: " + e.algorithm,
	}
}

func singleResponse(m *models.Message) *models.ConsensusOutcome {
	return &models.ConsensusOutcome{
		FinalAnswer:  m.Content,
		WinningVotes: 1,
		TotalVotes:   1,
		Method:       models.MethodSingleResponse,
	}
}

// ballot is the vote key of majority consensus: the first non-empty
// trimmed line of the content.
func ballot(content string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	return strings.TrimSpace(line)
}

func (e *Engine) majorityVote(messages []*models.Message) (*models.ConsensusOutcome, error) {
	ballots := make([]string, len(messages))
	counts := make(map[string]int, len(messages))
	for i, m := range messages {
		ballots[i] = ballot(m.Content)
		counts[ballots[i]]++
	}

	maxVotes := 0
	for _, c := range counts {
		if c > maxVotes {
			maxVotes = c
		}
	}
	tied := make(map[string]bool)
	for b, c := range counts {
		if c == maxVotes {
			tied[b] = true
		}
	}

	var winner *models.Message
	if len(tied) == 1 {
		// Clear winner: the first message in input order carrying the
		// winning ballot.
		for i, b := range ballots {
			if tied[b] {
				winner = messages[i]
				break
			}
		}
	} else {
		candidates := make([]*models.Message, 0, len(messages))
		for i, m := range messages {
			if tied[ballots[i]] {
				candidates = append(candidates, m)
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			if len(candidates[i].Content) != len(candidates[j].Content) {
				return len(candidates[i].Content) > len(candidates[j].Content)
			}
			return candidates[i].Content < candidates[j].Content
		})
		winner = candidates[0]
	}

	slog.Info("Majority consensus reached",
		"winning_votes", maxVotes,
		"total_votes", len(messages),
		"tied_ballots", len(tied),
	)

	return &models.ConsensusOutcome{
		FinalAnswer:  winner.Content,
		WinningVotes: maxVotes,
		TotalVotes:   len(messages),
		Method:       models.MethodMajorityVote,
	}, nil
}

// clusterCount picks k = clamp(n/2, 2, min(5, n)).
func clusterCount(n int) int {
	k := n / 2
	if k < 2 {
		k = 2
	}
	if upper := min(5, n); k > upper {
		k = upper
	}
	return k
}

// largestCluster returns the label with the most members, lowest label
// on ties.
func largestCluster(labels []int) int {
	counts := make(map[int]int)
	for _, l := range labels {
		counts[l]++
	}
	win, winCount := 0, -1
	for label, count := range counts {
		if count > winCount || (count == winCount && label < win) {
			win, winCount = label, count
		}
	}
	return win
}

func (e *Engine) semantic(ctx context.Context, messages []*models.Message) (*models.ConsensusOutcome, error) {
	const op = "consensus.semantic"

	contents := make([]string, len(messages))
	for i, m := range messages {
		contents[i] = m.Content
	}
	vectors, err := e.embedder.Embed(ctx, contents)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(messages) {
		return nil, &fault.Error{
			Kind:    fault.KindDependency,
			Op:      op,
			Message: fmt.Sprintf("embedder returned %d vectors for %d messages", len(vectors), len(messages)),
		}
	}

	clustering, err := e.clusterer.Cluster(vectors, clusterCount(len(messages)))
	if err != nil {
		return nil, err
	}

	winLabel := largestCluster(clustering.Labels)
	centroid := clustering.Centroids[winLabel]

	// The winner is the cluster member closest to the centroid. Strict <
	// keeps the earliest input on exact distance ties.
	winIdx, size := -1, 0
	best := math.Inf(1)
	for i, label := range clustering.Labels {
		if label != winLabel {
			continue
		}
		size++
		if d := sqDist(vectors[i], centroid); d < best {
			best, winIdx = d, i
		}
	}
	winner := messages[winIdx]

	slog.Info("Semantic consensus reached",
		"sender", winner.Sender,
		"cluster_size", size,
		"total_votes", len(messages),
	)

	return &models.ConsensusOutcome{
		FinalAnswer:  winner.Content,
		WinningVotes: size,
		TotalVotes:   len(messages),
		Method:       models.MethodSemanticClustering,
	}, nil
}

func (e *Engine) synthesis(ctx context.Context, messages []*models.Message) (*models.ConsensusOutcome, error) {
	userPrompt := userPromptFallback
	for _, m := range messages {
		if m.Sender == models.SenderUser {
			userPrompt = m.Content
			break
		}
	}

	var agentMessages []*models.Message
	for _, m := range messages {
		if m.FromAgent() {
			agentMessages = append(agentMessages, m)
		}
	}

	summaries := make([]string, 0, len(agentMessages))
	for _, m := range agentMessages {
		summary, err := e.summarizer.Summarize(ctx, m.Content)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	fused, err := e.fuser.Fuse(ctx, userPrompt, summaries)
	if err != nil {
		return nil, err
	}

	slog.Info("Synthesis consensus created",
		"agent_responses", len(agentMessages),
		"total_votes", len(messages),
	)

	confidence := synthesisConfidence
	return &models.ConsensusOutcome{
		FinalAnswer:  fused,
		WinningVotes: len(agentMessages),
		TotalVotes:   len(messages),
		Method:       models.MethodSynthesis,
		Confidence:   &confidence,
	}, nil
}
