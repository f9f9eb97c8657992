package card

import "context"

// Canvas size of every card.
const (
	CanvasWidth  = 1200
	CanvasHeight = 630
)

// Descriptor is everything a renderer needs to rasterize one card
type Descriptor struct {
	Width  int
	Height int
	Fonts  []FontAsset
	Root   *Node
}

// NewDescriptor wraps a composed layout with the canvas size and fonts
func NewDescriptor(root *Node, fonts *FontRegistry) *Descriptor {
	return &Descriptor{
		Width:  CanvasWidth,
		Height: CanvasHeight,
		Fonts:  fonts.Assets(),
		Root:   root,
	}
}

// Renderer rasterizes a descriptor into encoded image bytes of exactly
// Width x Height pixels.
type Renderer interface {
	Render(ctx context.Context, d *Descriptor) ([]byte, error)
}
