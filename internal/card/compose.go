package card

import (
	"image/color"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/moxie-stats/internal/domain"
)

// Input is the finished display data of one card
type Input struct {
	Profile    domain.RawUserProfile
	Earnings   []domain.MetricBucket
	Engagement []domain.MetricBucket
}

// Assets are the fixed images referenced by the layout
type Assets struct {
	BackgroundURL    string
	DefaultAvatarURL string
}

var (
	white     = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	accent    = color.NRGBA{R: 0xff, G: 0xe2, B: 0x48, A: 255}
	handleRGB = color.NRGBA{R: 147, G: 197, B: 253, A: 255}
)

// Fixed geometry of the 1200x630 canvas.
const (
	padX     = 48
	padY     = 32
	rowGap   = 16
	upperGap = 48
	lowerGap = 32
	cellGap  = 8

	avatarSize = 120
)

func textStyle(size float64, weight int, c color.NRGBA) Style {
	return Style{Color: c, FontFamily: DefaultFamily, FontWeight: weight, FontSize: size, Align: AlignCenter}
}

// Compose lays out the card. Every string in in is printed as given except
// for the display name, which is upper-cased, and the bucket keys, which are
// capitalized into labels. Empty profile fields get the card placeholders.
func Compose(in Input, assets Assets) *Node {
	profile := in.Profile.WithCardDefaults(assets.DefaultAvatarURL)

	canvas := Rect{X: 0, Y: 0, W: CanvasWidth, H: CanvasHeight}
	content := Rect{X: padX, Y: padY, W: CanvasWidth - 2*padX, H: CanvasHeight - 2*padY}
	rows := splitV(content, rowGap, 1, 1)

	upper := splitH(rows[0], upperGap, 0.55, 1)
	lower := splitH(rows[1], lowerGap, 0.4, 1)

	return Container("card", canvas, Style{},
		Image("background", canvas, assets.BackgroundURL, Style{}),
		Container("upper", rows[0], Style{},
			profilePanel(upper[0], profile),
			bucketPanel("earnings", upper[1], "MOXIE EARNINGS", in.Earnings, Style{Radius: 3}),
		),
		Container("lower", rows[1], Style{},
			scorePanel(lower[0], profile),
			bucketPanel("engagement", lower[1], "YOUR ENGAGEMENT VALUE", in.Engagement, Style{Radius: 8}),
		),
	)
}

func profilePanel(bounds Rect, profile domain.RawUserProfile) *Node {
	style := Style{
		Background:  color.NRGBA{A: 51},
		BorderColor: white,
		BorderWidth: 1,
		Radius:      8,
	}
	inner := bounds.Inset(16)
	slots := stackV(inner, avatarSize, 72, 48)

	avatar := Rect{X: inner.X + (inner.W-avatarSize)/2, Y: slots[0].Y, W: avatarSize, H: avatarSize}
	name := cases.Upper(language.Und).String(profile.DisplayName)

	return Container("profile", bounds, style,
		Image("profile.avatar", avatar, profile.AvatarURL, Style{Radius: avatarSize / 2}),
		Text("profile.name", slots[1], name, textStyle(64, 800, white)),
		Text("profile.handle", slots[2], "@"+profile.Handle, textStyle(43, 400, handleRGB)),
	)
}

func scorePanel(bounds Rect, profile domain.RawUserProfile) *Node {
	style := Style{Background: color.NRGBA{A: 26}, Radius: 8}
	slots := stackV(bounds.Inset(16), 54, 88, 54)

	return Container("score", bounds, style,
		Text("score.heading", slots[0], "FAR SCORE", textStyle(48, 400, white)),
		Text("score.value", slots[1], profile.Score, textStyle(80, 400, accent)),
		Text("score.rank", slots[2], "Rank: "+profile.Rank, textStyle(48, 400, white)),
	)
}

// bucketPanel draws a heading above equally wide cells, one per bucket.
func bucketPanel(name string, bounds Rect, heading string, buckets []domain.MetricBucket, style Style) *Node {
	inner := bounds.Inset(16)
	parts := splitV(inner, 0, 64, float64(max(inner.H-64, 0)))
	headingRect, cellsRect := parts[0], parts[1]

	weights := make([]float64, len(buckets))
	for i := range weights {
		weights[i] = 1
	}
	cellRects := splitH(cellsRect, cellGap, weights...)

	title := cases.Title(language.English)
	cells := make([]*Node, 0, len(buckets))
	for i, bucket := range buckets {
		prefix := name + "." + bucket.Key
		slots := stackV(cellRects[i], 60, 46, 38)
		cells = append(cells, Container(prefix, cellRects[i], Style{Radius: 16},
			Text(prefix+".amount", slots[0], bucket.Amount, textStyle(56, 400, accent)),
			Text(prefix+".usd", slots[1], "$"+bucket.USD, textStyle(40, 400, white)),
			Text(prefix+".label", slots[2], title.String(bucket.Key), textStyle(32, 400, white)),
		))
	}

	return Container(name, bounds, style,
		Text(name+".heading", headingRect, heading, textStyle(56, 400, white)),
		Container(name+".cells", cellsRect, Style{}, cells...),
	)
}

// splitH divides r into columns proportional to weights, separated by gap.
// The last column absorbs rounding so the columns exactly cover r.
func splitH(r Rect, gap int, weights ...float64) []Rect {
	sizes := divide(r.W, gap, weights)
	out := make([]Rect, len(sizes))
	x := r.X
	for i, w := range sizes {
		out[i] = Rect{X: x, Y: r.Y, W: w, H: r.H}
		x += w + gap
	}
	return out
}

// splitV divides r into rows proportional to weights, separated by gap.
func splitV(r Rect, gap int, weights ...float64) []Rect {
	sizes := divide(r.H, gap, weights)
	out := make([]Rect, len(sizes))
	y := r.Y
	for i, h := range sizes {
		out[i] = Rect{X: r.X, Y: y, W: r.W, H: h}
		y += h + gap
	}
	return out
}

func divide(total, gap int, weights []float64) []int {
	if len(weights) == 0 {
		return nil
	}
	avail := max(total-gap*(len(weights)-1), 0)

	var sum float64
	for _, w := range weights {
		sum += w
	}

	sizes := make([]int, len(weights))
	used := 0
	for i, w := range weights {
		if i == len(weights)-1 {
			sizes[i] = avail - used
			break
		}
		if sum > 0 {
			sizes[i] = int(float64(avail) * w / sum)
		}
		used += sizes[i]
	}
	return sizes
}

// stackV places rows of fixed heights, vertically centered in r.
func stackV(r Rect, heights ...int) []Rect {
	total := 0
	for _, h := range heights {
		total += h
	}
	y := r.Y + max(r.H-total, 0)/2

	out := make([]Rect, len(heights))
	for i, h := range heights {
		out[i] = Rect{X: r.X, Y: y, W: r.W, H: h}
		y += h
	}
	return out
}
