package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register gif
	_ "image/jpeg" // register jpeg
	_ "image/png"  // register png
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp" // register webp, used by most avatar CDNs
)

// maxImageBytes caps a single downloaded image.
const maxImageBytes = 8 << 20

// maxImageSide caps either dimension of a decoded image. Small compressed
// bodies can declare huge canvases.
const maxImageSide = 4096

// Fetcher loads the images referenced by a layout
type Fetcher interface {
	Fetch(ctx context.Context, url string) (image.Image, error)
}

// HTTPFetcher downloads and decodes images over HTTP
type HTTPFetcher struct {
	client *http.Client
	log    zerolog.Logger
}

// NewHTTPFetcher creates a fetcher whose every download is bounded by timeout
func NewHTTPFetcher(timeout time.Duration, log zerolog.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
		log:    log.With().Str("component", "image_fetcher").Logger(),
	}
}

// Fetch downloads url and decodes it as gif, jpeg, png or webp
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building image request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching image: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	if cfg.Width > maxImageSide || cfg.Height > maxImageSide {
		return nil, fmt.Errorf("image too large: %dx%d", cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	f.log.Debug().Str("url", url).Str("format", format).Msg("Fetched image")
	return img, nil
}
