// ABOUTME: Engine abstracts the reply model behind whole-response and streaming calls
// ABOUTME: Turns carry plain role-tagged text; providers translate to their own shapes

package assistant

import "context"

// Turn is one role-tagged entry of the conversation window handed to the
// engine. Role is "user" or "assistant".
type Turn struct {
	Role    string
	Content string
}

// Engine produces assistant replies. Complete returns the whole response in
// one call; Stream invokes onChunk for each text fragment as it arrives and
// returns the full concatenation. Both respect ctx cancellation.
type Engine interface {
	Complete(ctx context.Context, turns []Turn) (string, error)
	Stream(ctx context.Context, turns []Turn, onChunk func(chunk string)) (string, error)
}
