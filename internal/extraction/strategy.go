package extraction

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
)

// Strategy is one way of pulling slide content out of an archive. Strategies
// are tried in order; the first to return a usable deck wins.
type Strategy interface {
	Name() string
	Extract(archive *zip.Reader) ([]Slide, error)
}

// Ceiling on sequential slide part numbers scanned before giving up.
const maxSlideScan = 50

// Cap on a single slide part's inflated size, applied when reading entries.
const maxPartBytes = 8 * 1024 * 1024

// slidePart reads and inflates one named archive entry, bounding the inflated
// size so a lying central directory cannot balloon memory here.
func slidePart(archive *zip.Reader, name string) ([]byte, bool, error) {
	for _, file := range archive.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, true, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(io.LimitReader(rc, maxPartBytes+1))
		if err != nil {
			return nil, true, fmt.Errorf("read %s: %w", name, err)
		}
		if len(data) > maxPartBytes {
			return nil, true, fmt.Errorf("part %s exceeds %d bytes inflated", name, maxPartBytes)
		}
		return data, true, nil
	}
	return nil, false, nil
}

// slidePartNames walks slide1..slideN in order and stops at the first gap, so
// a stray slide999.xml cannot stretch the scan.
func slidePartNames(archive *zip.Reader) []string {
	present := make(map[string]bool, len(archive.File))
	for _, file := range archive.File {
		present[file.Name] = true
	}
	var names []string
	for i := 1; i <= maxSlideScan; i++ {
		name := fmt.Sprintf("ppt/slides/slide%d.xml", i)
		if !present[name] {
			break
		}
		names = append(names, name)
	}
	return names
}

func notesPartName(slideIndex int) string {
	return fmt.Sprintf("ppt/notesSlides/notesSlide%d.xml", slideIndex)
}

func openArchive(data []byte) (*zip.Reader, error) {
	return zip.NewReader(bytes.NewReader(data), int64(len(data)))
}
