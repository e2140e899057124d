package extraction

import (
	"archive/zip"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// scanStrategy is the lossy fallback for decks whose XML the structured
// parser rejects: it strips tags from each slide part and keeps whatever
// readable text remains. Titles are guessed from the first line.
type scanStrategy struct{}

func (scanStrategy) Name() string { return "scan" }

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`[ \t]+`)

	titleCaser = cases.Title(language.English)
)

func (s scanStrategy) Extract(archive *zip.Reader) ([]Slide, error) {
	names := slidePartNames(archive)
	if len(names) == 0 {
		return nil, errors.New("no sequential slide parts found")
	}

	slides := make([]Slide, 0, len(names))
	for i, name := range names {
		data, _, err := slidePart(archive, name)
		if err != nil {
			return nil, err
		}
		slide := scanSlideText(string(data))
		slide.Index = i + 1
		if slide.Title == "" && len(slide.Body) == 0 {
			slide.Title = titleCaser.String("untitled slide")
		}
		slides = append(slides, slide)
	}
	return slides, nil
}

// scanSlideText strips markup and splits the residue into a title line and
// body lines.
func scanSlideText(raw string) Slide {
	// Tag boundaries become line breaks so adjacent runs do not fuse.
	text := tagPattern.ReplaceAllString(raw, "\n")
	text = whitespacePattern.ReplaceAllString(text, " ")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || looksLikeMarkupResidue(line) {
			continue
		}
		lines = append(lines, line)
	}

	var slide Slide
	if len(lines) > 0 {
		slide.Title = lines[0]
		slide.Body = lines[1:]
	}
	return slide
}

// looksLikeMarkupResidue drops fragments that are clearly attribute spill
// rather than slide prose.
func looksLikeMarkupResidue(line string) bool {
	if strings.ContainsAny(line, "<>=") {
		return true
	}
	if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
		return true
	}
	return false
}
