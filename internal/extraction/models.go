package extraction

import (
	"strings"
	"time"
)

// Words-per-second pacing for narration, used to size slide durations.
const speakingRate = 2.5

// Duration clamp for a single slide's screen time.
const (
	minSlideDuration = 3 * time.Second
	maxSlideDuration = 30 * time.Second
)

// TextRun is one formatted text fragment from a slide part. Size is in
// points; zero means the run carried no explicit size.
type TextRun struct {
	Text string  `json:"text"`
	Bold bool    `json:"bold,omitempty"`
	Size float64 `json:"size,omitempty"`
}

// Slide is one extracted slide with everything later stages need. Body holds
// the flattened paragraph text used for narration and frame layout; Runs
// preserves the formatted fragments in document order when the strategy can
// see them (the markup-stripping and synthetic strategies leave it empty).
type Slide struct {
	Index     int       `json:"index"`
	Title     string    `json:"title"`
	Body      []string  `json:"body,omitempty"`
	Runs      []TextRun `json:"runs,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	ImageRefs []string  `json:"image_refs,omitempty"`
}

// Analysis records how the deck was extracted.
type Analysis struct {
	StrategyUsed string   `json:"strategy_used"`
	Synthetic    bool     `json:"synthetic"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Deck is the full extraction result handed to synthesis and rendering.
type Deck struct {
	Slides   []Slide  `json:"slides"`
	Analysis Analysis `json:"analysis"`
}

// NarrationText returns the text narrated for the slide: speaker notes when
// present, otherwise the title followed by the body runs.
func (s Slide) NarrationText() string {
	if notes := strings.TrimSpace(s.Notes); notes != "" {
		return notes
	}
	parts := make([]string, 0, len(s.Body)+1)
	if title := strings.TrimSpace(s.Title); title != "" {
		parts = append(parts, title)
	}
	for _, line := range s.Body {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, ". ")
}

// WordCount counts whitespace-separated words across the narrated text.
func (s Slide) WordCount() int {
	return len(strings.Fields(s.NarrationText()))
}

// SuggestedDuration sizes the slide's screen time from its word count at the
// standard speaking rate, clamped so empty slides still get screen time and
// dense slides do not stall the video.
func (s Slide) SuggestedDuration() time.Duration {
	seconds := float64(s.WordCount()) / speakingRate
	duration := time.Duration(seconds * float64(time.Second))
	if duration < minSlideDuration {
		return minSlideDuration
	}
	if duration > maxSlideDuration {
		return maxSlideDuration
	}
	return duration
}

// TotalDuration sums the suggested durations across the deck.
func (d *Deck) TotalDuration() time.Duration {
	var total time.Duration
	for _, slide := range d.Slides {
		total += slide.SuggestedDuration()
	}
	return total
}
