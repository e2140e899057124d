package rendering

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"slidereel/internal/assetcache"
	"slidereel/internal/extraction"
	"slidereel/internal/logging"
)

// Frame palette.
var (
	gradientTop    = color.RGBA{R: 0x1b, G: 0x2a, B: 0x4a, A: 0xff}
	gradientBottom = color.RGBA{R: 0x0c, G: 0x12, B: 0x21, A: 0xff}
	titleColor     = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	bodyColor      = color.RGBA{R: 0xc8, G: 0xd2, B: 0xe0, A: 0xff}
	footerColor    = color.RGBA{R: 0x6e, G: 0x7b, B: 0x91, A: 0xff}
)

const (
	frameMargin  = 80
	titleGap     = 40
	lineSpacing  = 22
	maxBodyLines = 18
)

// Composer renders one PNG frame per slide. Frames are cached by content so
// identical slides across jobs render once.
type Composer struct {
	width  int
	height int
	cache  *assetcache.Cache
	logger *slog.Logger
}

// NewComposer builds a frame composer for the given geometry.
func NewComposer(width, height int, cache *assetcache.Cache, logger *slog.Logger) *Composer {
	return &Composer{
		width:  width,
		height: height,
		cache:  cache,
		logger: logging.NewComponentLogger(logger, "composer"),
	}
}

// ComposeFrames renders every slide into framesDir and returns the frame
// paths in slide order. A slide whose full frame cannot be rendered gets a
// plain solid-background frame instead, so composition never aborts the
// render; the error path fires only when even that substitute cannot be
// written.
func (c *Composer) ComposeFrames(deck *extraction.Deck, framesDir string) ([]string, error) {
	paths := make([]string, 0, len(deck.Slides))
	for _, slide := range deck.Slides {
		fallback := filepath.Join(framesDir, fmt.Sprintf("slide%04d.png", slide.Index))
		key := assetcache.Key(
			fmt.Sprintf("%dx%d", c.width, c.height),
			slide.Title,
			strings.Join(slide.Body, "\n"),
			fmt.Sprintf("%d", slide.Index),
		)
		path, err := c.cache.GetOrFill(key, fallback, func(dst string) error {
			return c.renderFrame(dst, slide)
		})
		if err != nil {
			c.logger.Warn("frame render failed; substituting solid frame",
				logging.Int("slide", slide.Index), logging.Error(err))
			if err := c.renderSolidFrame(fallback, slide.Index); err != nil {
				return nil, fmt.Errorf("substitute frame for slide %d: %w", slide.Index, err)
			}
			path = fallback
		}
		paths = append(paths, path)
	}
	c.logger.Debug("frames composed", logging.Int("count", len(paths)))
	return paths, nil
}

// renderSolidFrame writes a minimal single-color frame carrying only the
// slide number. It depends on nothing but the frames directory.
func (c *Composer) renderSolidFrame(dst string, index int) error {
	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			img.SetRGBA(x, y, gradientBottom)
		}
	}
	drawString(img, basicfont.Face7x13, titleColor, frameMargin, c.height/2, fmt.Sprintf("Slide %d", index))

	file, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer file.Close()
	return png.Encode(file, img)
}

// renderFrame draws one slide onto a gradient background and writes it as
// PNG. A slide with no text still yields a frame carrying its number.
func (c *Composer) renderFrame(dst string, slide extraction.Slide) error {
	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	c.fillGradient(img)

	face := basicfont.Face7x13
	maxChars := (c.width - 2*frameMargin) / 7

	y := frameMargin
	title := slide.Title
	if title == "" {
		title = fmt.Sprintf("Slide %d", slide.Index)
	}
	for _, line := range wrapText(title, maxChars) {
		drawString(img, face, titleColor, frameMargin, y, line)
		y += lineSpacing
	}
	y += titleGap

	lines := 0
	for _, item := range slide.Body {
		for _, line := range wrapText(item, maxChars-2) {
			if lines >= maxBodyLines || y > c.height-frameMargin {
				break
			}
			drawString(img, face, bodyColor, frameMargin+14, y, line)
			y += lineSpacing
			lines++
		}
	}

	footer := fmt.Sprintf("%d", slide.Index)
	drawString(img, face, footerColor, c.width-frameMargin, c.height-frameMargin/2, footer)

	file, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer file.Close()
	return png.Encode(file, img)
}

func (c *Composer) fillGradient(img *image.RGBA) {
	bounds := img.Bounds()
	height := bounds.Dy()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		t := float64(y-bounds.Min.Y) / float64(height)
		row := color.RGBA{
			R: lerp(gradientTop.R, gradientBottom.R, t),
			G: lerp(gradientTop.G, gradientBottom.G, t),
			B: lerp(gradientTop.B, gradientBottom.B, t),
			A: 0xff,
		}
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			img.SetRGBA(x, y, row)
		}
	}
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}

func drawString(img *image.RGBA, face font.Face, col color.Color, x, y int, text string) {
	drawer := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	drawer.DrawString(text)
}

// wrapText breaks text into lines of at most maxChars characters on word
// boundaries. Oversized single words are hard-split.
func wrapText(text string, maxChars int) []string {
	if maxChars < 8 {
		maxChars = 8
	}
	var lines []string
	var current strings.Builder
	for _, word := range strings.Fields(text) {
		for len(word) > maxChars {
			if current.Len() > 0 {
				lines = append(lines, current.String())
				current.Reset()
			}
			lines = append(lines, word[:maxChars])
			word = word[maxChars:]
		}
		switch {
		case current.Len() == 0:
			current.WriteString(word)
		case current.Len()+1+len(word) <= maxChars:
			current.WriteByte(' ')
			current.WriteString(word)
		default:
			lines = append(lines, current.String())
			current.Reset()
			current.WriteString(word)
		}
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines
}
