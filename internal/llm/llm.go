// Package llm wraps the hosted completion service behind a blocking call
// and a streaming call with a uniform error surface.
package llm

import "context"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	Role    Role
	Content string
}

// Envelope is the fully assembled request for one completion call.
// It is rebuilt for every call and never stored.
type Envelope struct {
	System      []string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Fragment is one element of a streamed completion. The sequence is finite,
// forward-only and single-consumer: zero or more text fragments followed by
// exactly one terminal element carrying Done or Err, after which the channel
// is closed. The consumer must drain the channel.
type Fragment struct {
	Text string
	Err  error
	Done bool
}

type Completer interface {
	// Complete sends the envelope and waits for the full answer.
	Complete(ctx context.Context, env Envelope) (string, error)
	// Stream sends the envelope and forwards fragments in generation order
	// as the upstream emits them. Fragments delivered before a terminal Err
	// remain valid as a partial answer.
	Stream(ctx context.Context, env Envelope) <-chan Fragment
}
