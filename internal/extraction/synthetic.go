package extraction

import (
	"path/filepath"
	"strings"
)

// SyntheticDeck builds the three-slide placeholder deck used when every real
// strategy fails. The output is deterministic for a given filename so retries
// and tests see identical content, and the deck is always valid input for the
// rest of the pipeline.
func SyntheticDeck(filename string) *Deck {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	title := strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(base))
	if title == "" {
		title = "Training Presentation"
	} else {
		title = titleCaser.String(title)
	}

	return &Deck{
		Slides: []Slide{
			{
				Index: 1,
				Title: title,
				Body:  []string{"An automatically generated overview of this presentation."},
				Notes: "Welcome to " + title + ". This video was generated automatically from the uploaded presentation.",
			},
			{
				Index: 2,
				Title: "Content Unavailable",
				Body: []string{
					"The slide content of this presentation could not be read.",
					"A placeholder narration has been generated instead.",
				},
				Notes: "The content of the original slides could not be extracted, so this video presents placeholder material.",
			},
			{
				Index: 3,
				Title: "Summary",
				Body:  []string{"Please review the original presentation file for full details."},
				Notes: "This concludes the generated video. Refer to the original file for the complete presentation.",
			},
		},
		Analysis: Analysis{
			StrategyUsed: "synthetic",
			Synthetic:    true,
			Warnings:     []string{"no extraction strategy produced usable content"},
		},
	}
}
