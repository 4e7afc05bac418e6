// Package llm provides reasoning-engine client implementations.
package llm

import "context"

// Client is the interface every reasoning-engine provider implements.
// Implementations are stateless and safe for concurrent use.
type Client interface {
	// Chat sends one reasoning request and returns either a final
	// answer or tool-call requests in the response message.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
