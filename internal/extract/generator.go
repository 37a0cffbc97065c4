package extract

import "context"

// Generator submits a multimodal prompt to a generative model and returns
// its raw text. Implementations classify failures as *RetryableError,
// ErrUnreachable or *StoppedError where they can.
type Generator interface {
	Generate(ctx context.Context, prompt *Prompt) (string, error)
	Model() string
}
