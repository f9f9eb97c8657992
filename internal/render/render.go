// Package render rasterizes card layouts into PNG images.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"golang.org/x/sync/errgroup"

	"github.com/moxie-stats/internal/card"
)

// Rasterizer draws a card.Descriptor with x/image. Backdrop blur is not
// supported; panels are drawn with their translucent fill only.
type Rasterizer struct {
	fetcher Fetcher
	log     zerolog.Logger

	mu    sync.Mutex
	fonts map[string]*opentype.Font
}

// NewRasterizer creates a rasterizer that loads images with fetcher
func NewRasterizer(fetcher Fetcher, log zerolog.Logger) *Rasterizer {
	return &Rasterizer{
		fetcher: fetcher,
		log:     log.With().Str("component", "renderer").Logger(),
		fonts:   make(map[string]*opentype.Font),
	}
}

var _ card.Renderer = (*Rasterizer)(nil)

// Render draws d and encodes it as PNG. Images that fail to load leave their
// slot empty; only an invalid canvas or an encoding failure returns an error.
func (r *Rasterizer) Render(ctx context.Context, d *card.Descriptor) ([]byte, error) {
	if d == nil || d.Width <= 0 || d.Height <= 0 {
		return nil, fmt.Errorf("invalid card descriptor")
	}

	dst := image.NewRGBA(image.Rect(0, 0, d.Width, d.Height))
	images := r.loadImages(ctx, d.Root)

	faces := newFaceCache(r, d.Fonts)
	defer faces.close()

	r.drawNode(dst, d.Root, images, faces)

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encoding card: %w", err)
	}
	return buf.Bytes(), nil
}

// loadImages fetches every distinct image source of the tree concurrently.
func (r *Rasterizer) loadImages(ctx context.Context, root *card.Node) map[string]image.Image {
	var sources []string
	seen := map[string]bool{}
	root.Walk(func(n *card.Node) {
		if n.Kind == card.KindImage && n.Src != "" && !seen[n.Src] {
			seen[n.Src] = true
			sources = append(sources, n.Src)
		}
	})

	var mu sync.Mutex
	images := make(map[string]image.Image, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			img, err := r.fetcher.Fetch(gctx, src)
			if err != nil {
				r.log.Warn().Err(err).Str("src", src).Msg("Image unavailable, leaving slot empty")
				return nil
			}
			mu.Lock()
			images[src] = img
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return images
}

func (r *Rasterizer) drawNode(dst *image.RGBA, n *card.Node, images map[string]image.Image, faces *faceCache) {
	if n == nil {
		return
	}
	rect := toRect(n.Bounds)

	switch n.Kind {
	case card.KindContainer:
		fillBox(dst, rect, n.Style)
	case card.KindImage:
		if img, ok := images[n.Src]; ok {
			drawImage(dst, rect, img, n.Style.Radius)
		}
	case card.KindText:
		r.drawText(dst, rect, n, faces)
	}

	for _, child := range n.Children {
		r.drawNode(dst, child, images, faces)
	}
}

func toRect(b card.Rect) image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

func fillBox(dst *image.RGBA, rect image.Rectangle, style card.Style) {
	if style.Background.A > 0 {
		draw.DrawMask(dst, rect, image.NewUniform(style.Background), image.Point{},
			newRoundedMask(rect, style.Radius), rect.Min, draw.Over)
	}
	if style.BorderWidth > 0 && style.BorderColor.A > 0 {
		draw.DrawMask(dst, rect, image.NewUniform(style.BorderColor), image.Point{},
			newBorderMask(rect, style.Radius, style.BorderWidth), rect.Min, draw.Over)
	}
}

// drawImage stretches img over rect, clipped to the rounded corners.
func drawImage(dst *image.RGBA, rect image.Rectangle, img image.Image, radius int) {
	if rect.Empty() {
		return
	}
	scaled := image.NewRGBA(rect)
	draw.CatmullRom.Scale(scaled, rect, img, img.Bounds(), draw.Src, nil)
	draw.DrawMask(dst, rect, scaled, rect.Min, newRoundedMask(rect, radius), rect.Min, draw.Over)
}

// drawText draws a single line centered vertically in rect. Lines wider than
// rect are drawn at a proportionally smaller size.
func (r *Rasterizer) drawText(dst *image.RGBA, rect image.Rectangle, n *card.Node, faces *faceCache) {
	if n.Text == "" || rect.Empty() {
		return
	}
	style := n.Style

	size := style.FontSize
	face := faces.face(style.FontFamily, style.FontWeight, size)
	width := font.MeasureString(face, n.Text).Ceil()
	if width > rect.Dx() && width > 0 {
		size = size * float64(rect.Dx()) / float64(width)
		face = faces.face(style.FontFamily, style.FontWeight, size)
		width = font.MeasureString(face, n.Text).Ceil()
	}

	x := rect.Min.X
	if style.Align == card.AlignCenter {
		x += (rect.Dx() - width) / 2
	}

	metrics := face.Metrics()
	ascent, descent := metrics.Ascent.Ceil(), metrics.Descent.Ceil()
	baseline := rect.Min.Y + (rect.Dy()+ascent-descent)/2

	c := style.Color
	if c.A == 0 {
		c = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	}

	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(n.Text)
}

// parsed returns the parsed font of asset, parsing it at most once per
// process.
func (r *Rasterizer) parsed(asset card.FontAsset) (*opentype.Font, error) {
	key := fmt.Sprintf("%s/%d/%d/%t", asset.Family, asset.Weight, len(asset.Data), asset.Fallback)

	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.fonts[key]; ok {
		return f, nil
	}
	f, err := opentype.Parse(asset.Data)
	if err != nil {
		return nil, err
	}
	r.fonts[key] = f
	return f, nil
}

// faceCache holds the sized faces of a single render.
type faceCache struct {
	r      *Rasterizer
	assets []card.FontAsset
	faces  map[string]font.Face
}

func newFaceCache(r *Rasterizer, assets []card.FontAsset) *faceCache {
	return &faceCache{r: r, assets: assets, faces: make(map[string]font.Face)}
}

// face returns a face for the request, falling back to basicfont when no
// usable font is registered.
func (c *faceCache) face(family string, weight int, size float64) font.Face {
	key := fmt.Sprintf("%s/%d/%.2f", family, weight, size)
	if f, ok := c.faces[key]; ok {
		return f
	}

	asset, ok := card.Match(c.assets, family, weight)
	if !ok {
		return basicfont.Face7x13
	}
	parsed, err := c.r.parsed(asset)
	if err != nil {
		c.r.log.Warn().Err(err).Str("family", asset.Family).Int("weight", asset.Weight).Msg("Unparseable font")
		return basicfont.Face7x13
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		c.r.log.Warn().Err(err).Str("family", asset.Family).Msg("Creating font face failed")
		return basicfont.Face7x13
	}
	c.faces[key] = face
	return face
}

func (c *faceCache) close() {
	for _, f := range c.faces {
		_ = f.Close()
	}
}
