package card

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/gofont/gosmallcaps"
)

// DefaultFamily is the family text falls back to when the requested family
// was never registered.
const DefaultFamily = "Jersey"

// FontAsset is one font face shipped to the renderer
type FontAsset struct {
	Family string
	Weight int
	Data   []byte
	// Fallback is set when Data is a bundled Go font standing in for a
	// missing file.
	Fallback bool
}

// FontSpec names a font file to load
type FontSpec struct {
	Family string
	Weight int
	File   string
}

// FontRegistry is the immutable set of fonts loaded at startup
type FontRegistry struct {
	assets []FontAsset
}

// LoadFonts reads every spec from dir. A file that cannot be read is replaced
// by the closest bundled Go font so rendering keeps working; the substitution
// is logged.
func LoadFonts(dir string, specs []FontSpec, log zerolog.Logger) (*FontRegistry, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("no font faces configured")
	}

	assets := make([]FontAsset, 0, len(specs))
	for _, spec := range specs {
		path := filepath.Join(dir, spec.File)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().
				Err(err).
				Str("family", spec.Family).
				Int("weight", spec.Weight).
				Str("path", path).
				Msg("Font file missing, using bundled fallback")
			assets = append(assets, FontAsset{
				Family:   spec.Family,
				Weight:   spec.Weight,
				Data:     fallbackFont(spec.Family, spec.Weight),
				Fallback: true,
			})
			continue
		}
		assets = append(assets, FontAsset{Family: spec.Family, Weight: spec.Weight, Data: data})
	}

	return &FontRegistry{assets: assets}, nil
}

// NewFontRegistry builds a registry from already loaded assets
func NewFontRegistry(assets ...FontAsset) *FontRegistry {
	return &FontRegistry{assets: append([]FontAsset(nil), assets...)}
}

// BundledFonts returns a registry made only of the bundled Go fonts
func BundledFonts() *FontRegistry {
	return NewFontRegistry(
		FontAsset{Family: DefaultFamily, Weight: 400, Data: fallbackFont(DefaultFamily, 400), Fallback: true},
		FontAsset{Family: "Inter", Weight: 400, Data: goregular.TTF, Fallback: true},
		FontAsset{Family: "Inter", Weight: 600, Data: gomedium.TTF, Fallback: true},
		FontAsset{Family: "Inter", Weight: 700, Data: gobold.TTF, Fallback: true},
	)
}

// Assets returns the registered fonts in registration order
func (r *FontRegistry) Assets() []FontAsset {
	if r == nil {
		return nil
	}
	return append([]FontAsset(nil), r.assets...)
}

func fallbackFont(family string, weight int) []byte {
	switch {
	case family == DefaultFamily:
		return gosmallcaps.TTF
	case weight >= 700:
		return gobold.TTF
	case weight >= 500:
		return gomedium.TTF
	default:
		return goregular.TTF
	}
}

// Match picks the asset for family and weight: same family with the nearest
// weight, otherwise the default family, otherwise the first asset.
func Match(assets []FontAsset, family string, weight int) (FontAsset, bool) {
	if len(assets) == 0 {
		return FontAsset{}, false
	}
	if best, ok := nearestWeight(assets, family, weight); ok {
		return best, true
	}
	if best, ok := nearestWeight(assets, DefaultFamily, weight); ok {
		return best, true
	}
	return assets[0], true
}

func nearestWeight(assets []FontAsset, family string, weight int) (FontAsset, bool) {
	var (
		best  FontAsset
		found bool
		delta int
	)
	for _, a := range assets {
		if a.Family != family {
			continue
		}
		d := a.Weight - weight
		if d < 0 {
			d = -d
		}
		if !found || d < delta {
			best, delta, found = a, d, true
		}
	}
	return best, found
}
