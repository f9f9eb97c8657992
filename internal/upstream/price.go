package upstream

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/moxie-stats/internal/domain"
	"github.com/moxie-stats/internal/metrics"
)

// PriceSource returns the current Moxie unit price
type PriceSource interface {
	Quote(ctx context.Context) (domain.PriceQuote, error)
}

// MoralisSource reads the token price from the Moralis EVM API
type MoralisSource struct {
	baseURL string
	apiKey  string
	chain   string
	token   string
	api     requester
}

// NewMoralisSource creates a Moralis price source for token on chain
func NewMoralisSource(baseURL, apiKey, chain, token string, timeout time.Duration, limiter *rate.Limiter) *MoralisSource {
	return &MoralisSource{
		baseURL: baseURL,
		apiKey:  apiKey,
		chain:   chain,
		token:   token,
		api:     newRequester(timeout, limiter),
	}
}

type moralisPrice struct {
	USDPrice          float64 `json:"usdPrice"`
	USDPriceFormatted string  `json:"usdPriceFormatted"`
	PercentChange24h  Numeral `json:"24hrPercentChange"`
}

// Quote fetches /erc20/{token}/price
func (s *MoralisSource) Quote(ctx context.Context) (domain.PriceQuote, error) {
	endpoint := fmt.Sprintf("%s/erc20/%s/price?chain=%s", s.baseURL, s.token, url.QueryEscape(s.chain))

	header := http.Header{}
	header.Set("X-API-Key", s.apiKey)

	var body moralisPrice
	if err := s.api.getJSON(ctx, endpoint, header, &body); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("moralis price: %w", err)
	}

	return validQuote(domain.PriceQuote{
		USDPrice:          body.USDPrice,
		USDPriceFormatted: body.USDPriceFormatted,
		PercentChange24h:  body.PercentChange24h.Or("0"),
	})
}

// HTTPPriceSource reads a PriceQuote document from a plain URL
type HTTPPriceSource struct {
	url string
	api requester
}

// NewHTTPPriceSource creates a price source reading url
func NewHTTPPriceSource(url string, timeout time.Duration, limiter *rate.Limiter) *HTTPPriceSource {
	return &HTTPPriceSource{url: url, api: newRequester(timeout, limiter)}
}

// Quote fetches the configured URL
func (s *HTTPPriceSource) Quote(ctx context.Context) (domain.PriceQuote, error) {
	var body moralisPrice
	if err := s.api.getJSON(ctx, s.url, nil, &body); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("price feed: %w", err)
	}

	return validQuote(domain.PriceQuote{
		USDPrice:          body.USDPrice,
		USDPriceFormatted: body.USDPriceFormatted,
		PercentChange24h:  body.PercentChange24h.Or("0"),
	})
}

func validQuote(q domain.PriceQuote) (domain.PriceQuote, error) {
	if math.IsNaN(q.USDPrice) || math.IsInf(q.USDPrice, 0) || q.USDPrice <= 0 {
		return domain.PriceQuote{}, fmt.Errorf("%w: %v", domain.ErrInvalidPrice, q.USDPrice)
	}
	return q, nil
}

// PriceClient is the price lookup used by the card pipeline. It is built
// once at startup and shared by every request.
type PriceClient struct {
	source PriceSource
	log    zerolog.Logger
}

// NewPriceClient wraps source
func NewPriceClient(source PriceSource, log zerolog.Logger) *PriceClient {
	return &PriceClient{
		source: source,
		log:    log.With().Str("client", "price").Logger(),
	}
}

// Quote returns the source quote or the source error
func (c *PriceClient) Quote(ctx context.Context) (domain.PriceQuote, error) {
	return c.source.Quote(ctx)
}

// Current returns the current quote. Any failure yields the fallback quote.
func (c *PriceClient) Current(ctx context.Context) domain.PriceQuote {
	q, err := c.source.Quote(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Price unavailable, using fallback quote")
		metrics.UpstreamFallbacks.WithLabelValues(metrics.SourcePrice).Inc()
		return domain.FallbackPriceQuote()
	}
	return q
}
