// Package llm provides the completion gateway the agents and the consensus
// engine speak through.
package llm

import "context"

// CompletionRequest is a single-prompt completion call.
type CompletionRequest struct {
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Gateway produces completions. Implementations classify their failures
// through the fault taxonomy so callers can retry and trip breakers.
type Gateway interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, req CompletionRequest) (string, error)

// Complete calls f.
func (f GatewayFunc) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}
