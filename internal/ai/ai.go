// Package ai provides the LLM oracle backends used for reply generation and
// history summarization. Backends share the Oracle interface; the rest of the
// application never sees a vendor SDK type.
package ai

import "context"

// Turn is one conversational message sent to the oracle.
type Turn struct {
	Role    string
	Content string
}

// Oracle generates a raw completion for a system instruction and an ordered
// list of turns. Implementations apply their own timeout from configuration
// and map vendor failures onto the shared error sentinels.
type Oracle interface {
	Complete(ctx context.Context, system string, turns []Turn) (string, error)
}
