package narration

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"slidereel/internal/extraction"
	"slidereel/internal/logging"
)

// Segment locates one slide's narration inside the combined track. Offsets
// are half-open: a segment plays for [Start, End).
type Segment struct {
	SlideIndex int           `json:"slide_index"`
	Start      time.Duration `json:"start_ns"`
	End        time.Duration `json:"end_ns"`
	Provider   string        `json:"provider"`
	Synthetic  bool          `json:"synthetic"`
}

// Duration returns the segment's play time.
func (s Segment) Duration() time.Duration { return s.End - s.Start }

// Track is the assembled narration for a whole deck.
type Track struct {
	Path           string        `json:"path"`
	Duration       time.Duration `json:"duration_ns"`
	Segments       []Segment     `json:"segments"`
	SyntheticCount int           `json:"synthetic_count"`
}

// Synthesizer runs the provider chain per slide and assembles the combined
// track. Segment offsets tile the track exactly: each segment starts where
// the previous one ended and the last one ends at the track duration.
type Synthesizer struct {
	providers []Provider
	logger    *slog.Logger
}

// NewSynthesizer builds a synthesizer over an ordered provider chain. The
// terminal silence provider is appended if the chain does not already end
// with an infallible provider.
func NewSynthesizer(providers []Provider, logger *slog.Logger) *Synthesizer {
	hasSilence := false
	for _, p := range providers {
		if _, ok := p.(SilenceProvider); ok {
			hasSilence = true
		}
	}
	if !hasSilence {
		providers = append(providers, SilenceProvider{})
	}
	return &Synthesizer{
		providers: providers,
		logger:    logging.NewComponentLogger(logger, "synthesizer"),
	}
}

// Synthesize narrates every slide and writes the combined WAV to outPath.
// The progress callback, when set, is invoked after each slide.
func (s *Synthesizer) Synthesize(ctx context.Context, deck *extraction.Deck, outPath string, progress func(done, total int)) (*Track, error) {
	track := &Track{Path: outPath}
	var combined []byte

	for i, slide := range deck.Slides {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pcm, provider := s.narrateSlide(ctx, slide)
		// Every slide needs enough screen time to read, spoken or not.
		if minimum := Silence(slide.SuggestedDuration()); len(pcm) < len(minimum) {
			pcm = append(pcm, minimum[len(pcm):]...)
		}

		start := PCMDuration(combined)
		combined = append(combined, pcm...)
		segment := Segment{
			SlideIndex: slide.Index,
			Start:      start,
			End:        PCMDuration(combined),
			Provider:   provider,
			Synthetic:  provider == SilenceProvider{}.Name(),
		}
		if segment.Synthetic {
			track.SyntheticCount++
		}
		track.Segments = append(track.Segments, segment)

		if progress != nil {
			progress(i+1, len(deck.Slides))
		}
	}

	track.Duration = PCMDuration(combined)

	file, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("create narration track: %w", err)
	}
	defer file.Close()
	if err := EncodeWAV(file, combined); err != nil {
		return nil, fmt.Errorf("write narration track: %w", err)
	}

	s.logger.Info("narration assembled",
		logging.Int("segments", len(track.Segments)),
		logging.Int("synthetic", track.SyntheticCount),
		logging.Duration("duration", track.Duration))
	return track, nil
}

// narrateSlide walks the chain until a provider yields usable audio. The
// silence terminal guarantees a result.
func (s *Synthesizer) narrateSlide(ctx context.Context, slide extraction.Slide) ([]byte, string) {
	req := Request{
		Text:     slide.NarrationText(),
		Duration: slide.SuggestedDuration(),
	}
	for _, provider := range s.providers {
		data, err := provider.Synthesize(ctx, req)
		if err != nil {
			s.logger.Warn("narration provider failed",
				logging.String(logging.FieldProvider, provider.Name()),
				logging.Int("slide", slide.Index),
				logging.Error(err))
			continue
		}
		pcm, err := DecodeWAV(data)
		if err != nil {
			s.logger.Warn("narration provider returned unusable audio",
				logging.String(logging.FieldProvider, provider.Name()),
				logging.Int("slide", slide.Index),
				logging.Error(err))
			continue
		}
		return pcm, provider.Name()
	}
	// Unreachable with the silence terminal in place, but stay safe.
	return Silence(req.Duration), SilenceProvider{}.Name()
}
