package narration

import (
	"context"
	"time"
)

// Request is one slide's worth of narration work.
type Request struct {
	Text  string
	Voice string
	// Duration is the slide's suggested screen time, used by providers that
	// generate placeholder audio instead of speech.
	Duration time.Duration
}

// Provider turns narration text into WAV audio in the pipeline format. A
// provider error advances the chain to the next provider; only the terminal
// silence provider is infallible.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}
