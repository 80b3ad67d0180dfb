package provider

import (
	"context"
)

// DefaultReplayChunk is the fragment size the replay generator emits,
// intentionally small and unaligned so marker boundaries land mid-fragment
// the way a real transport chunks them.
const DefaultReplayChunk = 17

// Replay streams a recorded response in fixed-size fragments. Used by `weft
// run` against captured transcripts and by tests.
type Replay struct {
	name     string
	response string
	chunk    int
}

// NewReplay creates a replay generator for one recorded response.
func NewReplay(name, response string, chunk int) *Replay {
	if chunk <= 0 {
		chunk = DefaultReplayChunk
	}
	if name == "" {
		name = "replay"
	}
	return &Replay{name: name, response: response, chunk: chunk}
}

// Name returns the backend identifier.
func (r *Replay) Name() string { return r.name }

// Stream emits the recorded response in order, honoring cancellation.
func (r *Replay) Stream(ctx context.Context, prompt string) (<-chan Fragment, error) {
	out := make(chan Fragment)
	go func() {
		defer close(out)
		for i := 0; i < len(r.response); i += r.chunk {
			end := i + r.chunk
			if end > len(r.response) {
				end = len(r.response)
			}
			select {
			case out <- Fragment{Text: r.response[i:end]}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
