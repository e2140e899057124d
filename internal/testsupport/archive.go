package testsupport

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"testing"
)

// DeckSlide describes one slide for BuildDeckArchive.
type DeckSlide struct {
	Title string
	Body  []string
	Notes string
}

// BuildDeckArchive assembles a minimal presentation archive that passes
// validation and extracts through the markup strategy.
func BuildDeckArchive(t testing.TB, slides ...DeckSlide) []byte {
	t.Helper()

	entries := map[string][]byte{
		"[Content_Types].xml": []byte("<Types/>"),
	}
	for i, slide := range slides {
		entries[fmt.Sprintf("ppt/slides/slide%d.xml", i+1)] = []byte(slideMarkup(slide))
		if slide.Notes != "" {
			entries[fmt.Sprintf("ppt/notesSlides/notesSlide%d.xml", i+1)] = []byte(notesMarkup(slide.Notes))
		}
	}
	return BuildArchive(t, entries)
}

// BuildArchive zips arbitrary entries.
func BuildArchive(t testing.TB, entries map[string][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for name, body := range entries {
		entry, err := writer.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := entry.Write(body); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
	return buf.Bytes()
}

// BombArchive builds a small archive whose entries inflate to inflatedBytes
// each, for exercising the compression-ratio ceilings.
func BombArchive(t testing.TB, entryCount, inflatedBytes int) []byte {
	t.Helper()

	entries := map[string][]byte{
		"[Content_Types].xml": []byte("<Types/>"),
	}
	for i := 1; i <= entryCount; i++ {
		entries[fmt.Sprintf("ppt/slides/slide%d.xml", i)] = bytes.Repeat([]byte{'A'}, inflatedBytes)
	}
	return BuildArchive(t, entries)
}

func slideMarkup(slide DeckSlide) string {
	var sb strings.Builder
	sb.WriteString(`<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">`)
	sb.WriteString(`<p:cSld><p:spTree>`)
	sb.WriteString(`<p:sp><p:nvSpPr><p:nvPr><p:ph type="title"/></p:nvPr></p:nvSpPr>`)
	sb.WriteString(`<p:txBody><a:p><a:r><a:t>` + slide.Title + `</a:t></a:r></a:p></p:txBody></p:sp>`)
	sb.WriteString(`<p:sp><p:txBody>`)
	for _, line := range slide.Body {
		sb.WriteString(`<a:p><a:r><a:t>` + line + `</a:t></a:r></a:p>`)
	}
	sb.WriteString(`</p:txBody></p:sp>`)
	sb.WriteString(`</p:spTree></p:cSld></p:sld>`)
	return sb.String()
}

func notesMarkup(text string) string {
	return `<p:notes xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">` +
		`<p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:notes>`
}
