package extraction

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ooxmlStrategy parses slide parts as PresentationML, walking the XML token
// stream instead of binding a schema. Text runs (a:t), paragraph boundaries
// (a:p), placeholder types, picture references, and speaker notes all come
// from the token walk, which tolerates the namespace soup real decks carry.
type ooxmlStrategy struct{}

func (ooxmlStrategy) Name() string { return "ooxml" }

func (s ooxmlStrategy) Extract(archive *zip.Reader) ([]Slide, error) {
	names := slidePartNames(archive)
	if len(names) == 0 {
		return nil, errors.New("no sequential slide parts found")
	}

	slides := make([]Slide, 0, len(names))
	for i, name := range names {
		index := i + 1
		data, _, err := slidePart(archive, name)
		if err != nil {
			return nil, err
		}
		slide, err := parseSlideXML(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		slide.Index = index

		if notesData, ok, err := slidePart(archive, notesPartName(index)); err == nil && ok {
			slide.Notes = parseNotesXML(notesData)
		}

		slides = append(slides, slide)
	}
	return slides, nil
}

type paragraph struct {
	runs []TextRun
}

func (p paragraph) text() string {
	parts := make([]string, 0, len(p.runs))
	for _, run := range p.runs {
		parts = append(parts, run.Text)
	}
	return strings.TrimSpace(strings.Join(parts, ""))
}

// parseSlideXML walks one slide part. The first title-placeholder shape (or
// failing that, the first non-empty paragraph) becomes the title; remaining
// paragraphs become body lines; r:embed attributes on blip elements become
// image references.
func parseSlideXML(data []byte) (Slide, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))

	var (
		slide        Slide
		current      paragraph
		inRun        bool
		runBold      bool
		runSize      float64
		shapeDepth   int
		shapeIsTitle bool
		paragraphs   []paragraph
		titleParas   []paragraph
	)

	flushParagraph := func() {
		if text := current.text(); text != "" {
			if shapeIsTitle {
				titleParas = append(titleParas, current)
			} else {
				paragraphs = append(paragraphs, current)
			}
		}
		current = paragraph{}
	}

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Slide{}, err
		}

		switch elem := token.(type) {
		case xml.StartElement:
			switch elem.Name.Local {
			case "sp":
				shapeDepth++
				if shapeDepth == 1 {
					shapeIsTitle = false
				}
			case "ph":
				if phType := attrValue(elem, "type"); phType == "title" || phType == "ctrTitle" {
					shapeIsTitle = true
				}
			case "r":
				runBold = false
				runSize = 0
			case "rPr":
				runBold = attrValue(elem, "b") == "1" || attrValue(elem, "b") == "true"
				// sz is hundredths of a point.
				if sz := attrValue(elem, "sz"); sz != "" {
					if hundredths, err := strconv.Atoi(sz); err == nil {
						runSize = float64(hundredths) / 100
					}
				}
			case "t":
				inRun = true
			case "blip":
				if embed := attrValue(elem, "embed"); embed != "" {
					slide.ImageRefs = append(slide.ImageRefs, embed)
				}
			}
		case xml.EndElement:
			switch elem.Name.Local {
			case "sp":
				flushParagraph()
				if shapeDepth > 0 {
					shapeDepth--
				}
				shapeIsTitle = false
			case "p":
				flushParagraph()
			case "t":
				inRun = false
			}
		case xml.CharData:
			if inRun {
				current.runs = append(current.runs, TextRun{Text: string(elem), Bold: runBold, Size: runSize})
			}
		}
	}
	flushParagraph()

	if len(titleParas) > 0 {
		slide.Title = titleParas[0].text()
		slide.Runs = append(slide.Runs, titleParas[0].runs...)
		for _, p := range titleParas[1:] {
			paragraphs = append(paragraphs, p)
		}
	} else if len(paragraphs) > 0 {
		slide.Title = paragraphs[0].text()
		slide.Runs = append(slide.Runs, paragraphs[0].runs...)
		paragraphs = paragraphs[1:]
	}
	for _, p := range paragraphs {
		slide.Body = append(slide.Body, p.text())
		slide.Runs = append(slide.Runs, p.runs...)
	}
	return slide, nil
}

// parseNotesXML collects every text run in a notes part into one passage.
func parseNotesXML(data []byte) string {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	var (
		runs  []string
		inRun bool
	)
	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		switch elem := token.(type) {
		case xml.StartElement:
			if elem.Name.Local == "t" {
				inRun = true
			}
		case xml.EndElement:
			if elem.Name.Local == "t" {
				inRun = false
			}
			if elem.Name.Local == "p" && len(runs) > 0 && runs[len(runs)-1] != " " {
				runs = append(runs, " ")
			}
		case xml.CharData:
			if inRun {
				runs = append(runs, string(elem))
			}
		}
	}
	return strings.TrimSpace(strings.Join(runs, ""))
}

func attrValue(elem xml.StartElement, local string) string {
	for _, attr := range elem.Attr {
		if attr.Name.Local == local {
			return attr.Value
		}
	}
	return ""
}
