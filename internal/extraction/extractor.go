package extraction

import (
	"fmt"
	"log/slog"
	"strings"

	"slidereel/internal/logging"
)

// Extractor runs the strategy chain over an archive. The structured OOXML
// parser goes first, the lossy text scan second, and the synthetic deck
// catches everything else, so extraction as a whole cannot fail.
type Extractor struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewExtractor builds the default chain.
func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{
		strategies: []Strategy{ooxmlStrategy{}, scanStrategy{}},
		logger:     logging.NewComponentLogger(logger, "extractor"),
	}
}

// Extract returns a deck for the archive. Strategy failures are recorded as
// warnings on the winning deck's analysis; only an unreadable archive skips
// straight to the synthetic fallback.
func (e *Extractor) Extract(archiveData []byte, filename string) *Deck {
	archive, err := openArchive(archiveData)
	if err != nil {
		e.logger.Warn("archive unreadable, using synthetic deck", logging.Error(err))
		deck := SyntheticDeck(filename)
		deck.Analysis.Warnings = append(deck.Analysis.Warnings, fmt.Sprintf("open archive: %v", err))
		return deck
	}

	var warnings []string
	for _, strategy := range e.strategies {
		slides, err := strategy.Extract(archive)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", strategy.Name(), err))
			e.logger.Warn("extraction strategy failed",
				logging.String("strategy", strategy.Name()),
				logging.Error(err))
			continue
		}
		if !usable(slides) {
			warnings = append(warnings, fmt.Sprintf("%s: produced no usable text", strategy.Name()))
			continue
		}
		e.logger.Info("deck extracted",
			logging.String("strategy", strategy.Name()),
			logging.Int("slides", len(slides)))
		return &Deck{
			Slides: slides,
			Analysis: Analysis{
				StrategyUsed: strategy.Name(),
				Warnings:     warnings,
			},
		}
	}

	e.logger.Warn("all extraction strategies failed, using synthetic deck",
		logging.String("warnings", strings.Join(warnings, "; ")))
	deck := SyntheticDeck(filename)
	deck.Analysis.Warnings = append(deck.Analysis.Warnings, warnings...)
	return deck
}

// usable requires at least one slide carrying real text.
func usable(slides []Slide) bool {
	for _, slide := range slides {
		if strings.TrimSpace(slide.NarrationText()) != "" {
			return true
		}
	}
	return false
}
