package rendering

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"slidereel/internal/assetcache"
	"slidereel/internal/config"
	"slidereel/internal/extraction"
)

func newTestCache(t *testing.T, enabled bool) *assetcache.Cache {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.AssetCache.Enabled = enabled
	cache, err := assetcache.New(&cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	return cache
}

func sampleDeck() *extraction.Deck {
	return &extraction.Deck{
		Slides: []extraction.Slide{
			{Index: 1, Title: "Quarterly Review", Body: []string{"Revenue grew twelve percent.", "Churn held steady."}},
			{Index: 2, Title: "", Body: nil},
			{Index: 3, Title: "A very long title that will need to wrap across multiple lines to fit the frame width"},
		},
	}
}

func TestComposeFramesWritesDecodablePNGs(t *testing.T) {
	composer := NewComposer(1280, 720, newTestCache(t, false), nil)
	framesDir := t.TempDir()

	paths, err := composer.ComposeFrames(sampleDeck(), framesDir)
	if err != nil {
		t.Fatalf("ComposeFrames: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("frames = %d, want 3", len(paths))
	}
	for _, path := range paths {
		file, err := os.Open(path)
		if err != nil {
			t.Fatalf("open frame: %v", err)
		}
		img, err := png.Decode(file)
		file.Close()
		if err != nil {
			t.Fatalf("frame %s not decodable: %v", path, err)
		}
		bounds := img.Bounds()
		if bounds.Dx() != 1280 || bounds.Dy() != 720 {
			t.Fatalf("frame geometry %dx%d", bounds.Dx(), bounds.Dy())
		}
	}
}

func TestComposeFramesReusesCachedFrames(t *testing.T) {
	cache := newTestCache(t, true)
	composer := NewComposer(640, 360, cache, nil)

	first, err := composer.ComposeFrames(sampleDeck(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	second, err := composer.ComposeFrames(sampleDeck(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("frame %d not reused: %s != %s", i, first[i], second[i])
		}
	}
	if cache.Len() != 3 {
		t.Fatalf("cache entries = %d, want 3", cache.Len())
	}
}

func TestComposeFramesSubstitutesSolidFrameOnRenderFailure(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.AssetCache.Enabled = true
	cache, err := assetcache.New(&cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Break the cache's backing directory so every full-frame render fails.
	if err := os.RemoveAll(cfg.CacheDir()); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.CacheDir(), []byte("not a directory"), 0o644); err != nil {
		t.Fatal(err)
	}

	composer := NewComposer(640, 360, cache, nil)
	framesDir := t.TempDir()

	paths, err := composer.ComposeFrames(sampleDeck(), framesDir)
	if err != nil {
		t.Fatalf("ComposeFrames: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("frames = %d, want 3", len(paths))
	}
	for i, path := range paths {
		if filepath.Dir(path) != framesDir {
			t.Fatalf("frame %d was not substituted into the frames dir: %s", i, path)
		}
		file, err := os.Open(path)
		if err != nil {
			t.Fatalf("open substitute frame: %v", err)
		}
		img, err := png.Decode(file)
		file.Close()
		if err != nil {
			t.Fatalf("substitute frame %s not decodable: %v", path, err)
		}
		bounds := img.Bounds()
		if bounds.Dx() != 640 || bounds.Dy() != 360 {
			t.Fatalf("substitute frame geometry %dx%d", bounds.Dx(), bounds.Dy())
		}
	}
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxChars int
		want     []string
	}{
		{"fits on one line", "short title", 40, []string{"short title"}},
		{"wraps on word boundary", "alpha beta gamma", 10, []string{"alpha beta", "gamma"}},
		{"hard splits oversized word", "abcdefghijklmnop", 8, []string{"abcdefgh", "ijklmnop"}},
		{"empty text still yields a line", "", 20, []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapText(tt.text, tt.maxChars)
			if len(got) != len(tt.want) {
				t.Fatalf("lines = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("line %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
