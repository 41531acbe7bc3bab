package consensus

import (
	"context"
	"fmt"
	"strings"

	"github.com/polyagents/polyagents/pkg/llm"
)

// Fixed instructions for the synthesis capabilities.
const (
	summarizeInstruction = "You are a thinking assistant. Summarize the following agent response in a concise, insightful way, highlighting the key points and reasoning steps.\n"

	fuseInstruction = "You are a thinking assistant. Given the original user question and the following agent summaries, synthesize a single, comprehensive answer that combines the best insights, resolves conflicts, and provides actionable recommendations.\n"
)

// synthesisTemperature keeps the summarize and fuse calls focused;
// creative variance belongs to the agents, not the consensus stage.
const synthesisTemperature = 0.3

// Token caps for the two synthesis calls. Summaries stay short so the
// fusion prompt holds every agent's contribution.
const (
	defaultSummaryTokens = 128
	defaultFusionTokens  = 256
)

// LLMSummarizer condenses agent responses through the gateway.
type LLMSummarizer struct {
	gateway   llm.Gateway
	model     string
	maxTokens int
}

// NewLLMSummarizer builds a Summarizer on gateway. maxTokens <= 0 selects
// the default summary cap.
func NewLLMSummarizer(gateway llm.Gateway, model string, maxTokens int) *LLMSummarizer {
	if maxTokens <= 0 {
		maxTokens = defaultSummaryTokens
	}
	return &LLMSummarizer{gateway: gateway, model: model, maxTokens: maxTokens}
}

// Summarize produces a short summary of one agent response.
func (s *LLMSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	out, err := s.gateway.Complete(ctx, llm.CompletionRequest{
		Model:       s.model,
		Prompt:      summarizeInstruction + text,
		Temperature: synthesisTemperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// LLMFuser merges agent summaries into one answer through the gateway.
type LLMFuser struct {
	gateway   llm.Gateway
	model     string
	maxTokens int
}

// NewLLMFuser builds a Fuser on gateway. maxTokens <= 0 selects the
// default fusion cap.
func NewLLMFuser(gateway llm.Gateway, model string, maxTokens int) *LLMFuser {
	if maxTokens <= 0 {
		maxTokens = defaultFusionTokens
	}
	return &LLMFuser{gateway: gateway, model: model, maxTokens: maxTokens}
}

// Fuse synthesizes the numbered summaries into a single answer to the
// user's question.
func (f *LLMFuser) Fuse(ctx context.Context, userPrompt string, summaries []string) (string, error) {
	var b strings.Builder
	b.WriteString(fuseInstruction)
	fmt.Fprintf(&b, "User question: %s\n", userPrompt)
	b.WriteString("Agent summaries:\n")
	for i, summary := range summaries {
		fmt.Fprintf(&b, "Agent %d: %s\n", i+1, summary)
	}
	b.WriteString("\nSynthesized answer:")

	out, err := f.gateway.Complete(ctx, llm.CompletionRequest{
		Model:       f.model,
		Prompt:      b.String(),
		Temperature: synthesisTemperature,
		MaxTokens:   f.maxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
