package narration

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"slidereel/internal/extraction"
)

type stubProvider struct {
	name  string
	err   error
	audio []byte
	calls int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.audio, nil
}

func wavBytes(t *testing.T, d time.Duration) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := EncodeWAV(&buf, Silence(d)); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	return buf.Bytes()
}

func testDeck(slides int) *extraction.Deck {
	deck := &extraction.Deck{}
	for i := 1; i <= slides; i++ {
		deck.Slides = append(deck.Slides, extraction.Slide{
			Index: i,
			Title: "Slide",
			Notes: "Some spoken narration for this slide of the deck.",
		})
	}
	return deck
}

func TestProviderChainAdvancesOnFailure(t *testing.T) {
	first := &stubProvider{name: "command", err: errors.New("binary crashed")}
	second := &stubProvider{name: "http", audio: wavBytes(t, 4*time.Second)}

	synth := NewSynthesizer([]Provider{first, second}, nil)
	outPath := filepath.Join(t.TempDir(), "narration.wav")
	track, err := synth.Synthesize(context.Background(), testDeck(2), outPath, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if first.calls != 2 || second.calls != 2 {
		t.Fatalf("chain calls = %d/%d, want 2/2", first.calls, second.calls)
	}
	for _, segment := range track.Segments {
		if segment.Provider != "http" {
			t.Fatalf("segment provider = %q, want http", segment.Provider)
		}
		if segment.Synthetic {
			t.Fatal("http narration is not synthetic")
		}
	}
	if track.SyntheticCount != 0 {
		t.Fatalf("synthetic count = %d", track.SyntheticCount)
	}
}

func TestSilenceTerminalCatchesTotalOutage(t *testing.T) {
	first := &stubProvider{name: "command", err: errors.New("down")}
	second := &stubProvider{name: "http", err: errors.New("down")}

	synth := NewSynthesizer([]Provider{first, second}, nil)
	outPath := filepath.Join(t.TempDir(), "narration.wav")
	track, err := synth.Synthesize(context.Background(), testDeck(3), outPath, nil)
	if err != nil {
		t.Fatalf("Synthesize must not fail with the silence terminal: %v", err)
	}

	if track.SyntheticCount != 3 {
		t.Fatalf("synthetic count = %d, want 3", track.SyntheticCount)
	}
	for _, segment := range track.Segments {
		if segment.Provider != "silence" || !segment.Synthetic {
			t.Fatalf("unexpected segment %+v", segment)
		}
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read track: %v", err)
	}
	if _, err := DecodeWAV(data); err != nil {
		t.Fatalf("combined track is not valid wav: %v", err)
	}
}

func TestSegmentsTileTheTrackExactly(t *testing.T) {
	provider := &stubProvider{name: "http", audio: wavBytes(t, 5*time.Second)}
	synth := NewSynthesizer([]Provider{provider}, nil)

	outPath := filepath.Join(t.TempDir(), "narration.wav")
	track, err := synth.Synthesize(context.Background(), testDeck(4), outPath, nil)
	if err != nil {
		t.Fatal(err)
	}

	var cursor time.Duration
	for _, segment := range track.Segments {
		if segment.Start != cursor {
			t.Fatalf("segment %d starts at %v, previous ended at %v", segment.SlideIndex, segment.Start, cursor)
		}
		if segment.End <= segment.Start {
			t.Fatalf("segment %d is empty: %+v", segment.SlideIndex, segment)
		}
		cursor = segment.End
	}
	if cursor != track.Duration {
		t.Fatalf("segments end at %v but track lasts %v", cursor, track.Duration)
	}
}

func TestShortAudioIsPaddedToMinimumScreenTime(t *testing.T) {
	// One second of speech for a slide that needs at least three seconds.
	provider := &stubProvider{name: "http", audio: wavBytes(t, time.Second)}
	synth := NewSynthesizer([]Provider{provider}, nil)

	deck := &extraction.Deck{Slides: []extraction.Slide{{Index: 1, Notes: "Hi."}}}
	outPath := filepath.Join(t.TempDir(), "narration.wav")
	track, err := synth.Synthesize(context.Background(), deck, outPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	if track.Segments[0].Duration() < 3*time.Second {
		t.Fatalf("segment duration %v below slide minimum", track.Segments[0].Duration())
	}
}

func TestSynthesizeReportsProgress(t *testing.T) {
	provider := &stubProvider{name: "http", audio: wavBytes(t, 3*time.Second)}
	synth := NewSynthesizer([]Provider{provider}, nil)

	var reports []int
	outPath := filepath.Join(t.TempDir(), "narration.wav")
	_, err := synth.Synthesize(context.Background(), testDeck(3), outPath, func(done, total int) {
		if total != 3 {
			t.Fatalf("total = %d", total)
		}
		reports = append(reports, done)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 3 || reports[2] != 3 {
		t.Fatalf("progress reports = %v", reports)
	}
}

func TestSynthesizeHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &stubProvider{name: "http", audio: wavBytes(t, time.Second)}
	synth := NewSynthesizer([]Provider{provider}, nil)
	_, err := synth.Synthesize(ctx, testDeck(2), filepath.Join(t.TempDir(), "n.wav"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
