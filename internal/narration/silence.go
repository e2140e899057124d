package narration

import (
	"bytes"
	"context"
	"time"
)

const defaultSilenceDuration = 3 * time.Second

// SilenceProvider is the terminal fallback: it emits silent audio sized to
// the slide's suggested screen time, so a deck still becomes a watchable
// video when every speech provider is down.
type SilenceProvider struct{}

func (SilenceProvider) Name() string { return "silence" }

// Synthesize never fails.
func (SilenceProvider) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	duration := req.Duration
	if duration <= 0 {
		duration = defaultSilenceDuration
	}
	var buf bytes.Buffer
	if err := EncodeWAV(&buf, Silence(duration)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
