package security

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// Limits holds the structural ceilings applied to an uploaded archive.
type Limits struct {
	MaxArchiveBytes int64
	MaxEntryCount   int
	// MaxAggregateRatio bounds total declared uncompressed size over archive size.
	MaxAggregateRatio float64
	// MaxEntryRatio bounds a single entry's declared size over its compressed size.
	MaxEntryRatio float64
	MaxSlideCount int
}

// Stats carries the measurements taken while validating an archive.
type Stats struct {
	ArchiveBytes      int64    `json:"archive_bytes"`
	DeclaredBytes     int64    `json:"declared_bytes"`
	EntryCount        int      `json:"entry_count"`
	SlideCount        int      `json:"slide_count"`
	ImageCount        int      `json:"image_count"`
	MaxEntryRatio     float64  `json:"max_entry_ratio"`
	AggregateRatio    float64  `json:"aggregate_ratio"`
	SuspiciousEntries []string `json:"suspicious_entries,omitempty"`
}

// Report is the immutable outcome of validating one archive.
type Report struct {
	Passed   bool     `json:"passed"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Stats    Stats    `json:"stats"`
}

var (
	slidePartPattern = regexp.MustCompile(`^ppt/slides/slide[0-9]+\.xml$`)
	mediaPartPrefix  = "ppt/media/"
	contentTypesPart = "[Content_Types].xml"
)

// Validate inspects the archive for structural bombs and deck layout before
// any content extraction happens. It never mutates its input and never
// returns an error: every violation lands in the report. There is
// deliberately no bypass path of any kind keyed off the filename.
func Validate(archive []byte, filename string, limits Limits) *Report {
	report := &Report{Stats: Stats{ArchiveBytes: int64(len(archive))}}

	if limits.MaxArchiveBytes > 0 && int64(len(archive)) > limits.MaxArchiveBytes {
		report.fail(fmt.Sprintf("archive size %d exceeds limit %d bytes", len(archive), limits.MaxArchiveBytes))
		return report
	}
	if len(archive) == 0 {
		report.fail("archive is empty")
		return report
	}

	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		report.fail(fmt.Sprintf("not a readable zip archive: %v", err))
		return report
	}

	report.Stats.EntryCount = len(reader.File)
	if limits.MaxEntryCount > 0 && len(reader.File) > limits.MaxEntryCount {
		report.fail(fmt.Sprintf("archive holds %d entries, limit is %d", len(reader.File), limits.MaxEntryCount))
	}

	hasContentTypes := false
	for _, file := range reader.File {
		name := file.Name
		declared := int64(file.UncompressedSize64)
		compressed := int64(file.CompressedSize64)
		report.Stats.DeclaredBytes += declared

		ratio := entryRatio(declared, compressed)
		if ratio > report.Stats.MaxEntryRatio {
			report.Stats.MaxEntryRatio = ratio
		}
		if limits.MaxEntryRatio > 0 && ratio > limits.MaxEntryRatio {
			report.Stats.SuspiciousEntries = append(report.Stats.SuspiciousEntries, name)
			report.fail(fmt.Sprintf("entry %q declares a %.0f:1 compression ratio, limit is %.0f:1", name, ratio, limits.MaxEntryRatio))
		}

		switch {
		case name == contentTypesPart:
			hasContentTypes = true
		case slidePartPattern.MatchString(name):
			report.Stats.SlideCount++
		case strings.HasPrefix(name, mediaPartPrefix) && !file.FileInfo().IsDir():
			report.Stats.ImageCount++
		}
	}

	if report.Stats.ArchiveBytes > 0 {
		report.Stats.AggregateRatio = float64(report.Stats.DeclaredBytes) / float64(report.Stats.ArchiveBytes)
	}
	if limits.MaxAggregateRatio > 0 && report.Stats.AggregateRatio > limits.MaxAggregateRatio {
		report.fail(fmt.Sprintf("aggregate compression ratio %.0f:1 exceeds limit %.0f:1", report.Stats.AggregateRatio, limits.MaxAggregateRatio))
	}

	if !hasContentTypes {
		report.fail("missing [Content_Types].xml; not an OOXML package")
	}
	if report.Stats.SlideCount == 0 {
		report.fail("archive contains no slide parts")
	}
	if limits.MaxSlideCount > 0 && report.Stats.SlideCount > limits.MaxSlideCount {
		report.fail(fmt.Sprintf("archive holds %d slides, limit is %d", report.Stats.SlideCount, limits.MaxSlideCount))
	}
	if report.Stats.SlideCount > 0 && report.Stats.ImageCount == 0 {
		report.warn("deck carries no media images; frames will be text only")
	}

	report.Passed = len(report.Errors) == 0
	return report
}

func entryRatio(declared, compressed int64) float64 {
	if declared <= 0 {
		return 0
	}
	if compressed <= 0 {
		// Stored-but-empty compressed size with declared payload is itself
		// suspicious; treat as a maximal ratio.
		return float64(declared)
	}
	return float64(declared) / float64(compressed)
}

func (r *Report) fail(message string) {
	r.Errors = append(r.Errors, message)
	r.Passed = false
}

func (r *Report) warn(message string) {
	r.Warnings = append(r.Warnings, message)
}
