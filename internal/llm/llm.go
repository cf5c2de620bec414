// Package llm provides the single external language-model capability the
// core uses: a one-shot text completion. The Translator's fallback step and
// the Specialist Synthesizer's natural-language rendering are the only
// callers; both are required to treat any Client as strictly a text-in,
// text-out function with no memory of prior calls.
package llm

import "context"

// Client is satisfied by anything that can turn a prompt into a completion.
// It deliberately exposes nothing about the underlying provider — no
// streaming, no tool use, no multi-turn state — because nothing in the
// Service-Desk Pipeline needs more than that.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
