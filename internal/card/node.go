package card

import "image/color"

// Kind tells which variant a Node is
type Kind int

const (
	KindContainer Kind = iota
	KindText
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindContainer:
		return "container"
	case KindText:
		return "text"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// Rect is a region in canvas pixels
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Inset shrinks the rectangle by px on every side
func (r Rect) Inset(px int) Rect {
	return Rect{X: r.X + px, Y: r.Y + px, W: max(r.W-2*px, 0), H: max(r.H-2*px, 0)}
}

// Contains reports whether o lies entirely inside r
func (r Rect) Contains(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y && o.X+o.W <= r.X+r.W && o.Y+o.H <= r.Y+r.H
}

// Align is the horizontal text alignment inside a region
type Align int

const (
	AlignCenter Align = iota
	AlignStart
)

// Style holds the visual attributes of a node. Zero colors are transparent.
type Style struct {
	Background  color.NRGBA
	BorderColor color.NRGBA
	BorderWidth int
	Radius      int

	Color      color.NRGBA
	FontFamily string
	FontWeight int
	FontSize   float64
	Align      Align
}

// Node is one region of the card layout. Exactly one of Children, Text or
// Src is meaningful, depending on Kind.
type Node struct {
	Kind     Kind
	Name     string
	Bounds   Rect
	Style    Style
	Text     string
	Src      string
	Children []*Node
}

// Container creates a node holding children
func Container(name string, bounds Rect, style Style, children ...*Node) *Node {
	return &Node{Kind: KindContainer, Name: name, Bounds: bounds, Style: style, Children: children}
}

// Text creates a text node
func Text(name string, bounds Rect, text string, style Style) *Node {
	return &Node{Kind: KindText, Name: name, Bounds: bounds, Style: style, Text: text}
}

// Image creates an image node stretched over bounds
func Image(name string, bounds Rect, src string, style Style) *Node {
	return &Node{Kind: KindImage, Name: name, Bounds: bounds, Style: style, Src: src}
}

// Walk visits n and its descendants depth first, parents before children.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// Find returns the first node with the given name, or nil
func (n *Node) Find(name string) *Node {
	var found *Node
	n.Walk(func(node *Node) {
		if found == nil && node.Name == name {
			found = node
		}
	})
	return found
}
