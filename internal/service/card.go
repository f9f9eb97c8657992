// Package service wires the upstream sources, stores and renderer into the
// card and frame pipelines.
package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/moxie-stats/internal/card"
	"github.com/moxie-stats/internal/derive"
	"github.com/moxie-stats/internal/domain"
	"github.com/moxie-stats/internal/metrics"
)

// PriceQuoter returns the current unit price and never fails
type PriceQuoter interface {
	Current(ctx context.Context) domain.PriceQuote
}

// CardQuery is the decoded input of the card image endpoint
type CardQuery struct {
	Profile  domain.RawUserProfile
	Earnings domain.RawEarnings
}

// ParseCardQuery reads the card query parameters. Absent values stay empty
// and get their placeholders when the card is composed.
func ParseCardQuery(q url.Values) CardQuery {
	return CardQuery{
		Profile: domain.RawUserProfile{
			DisplayName: q.Get("name"),
			Handle:      q.Get("username"),
			Score:       q.Get("score"),
			Rank:        q.Get("rank"),
			AvatarURL:   decodeImageURL(q.Get("profileImageUrl")),
		},
		Earnings: domain.RawEarnings{
			Daily:    q.Get("today"),
			Weekly:   q.Get("weekly"),
			Lifetime: q.Get("lifetime"),
		}.WithDefaults(),
	}
}

// decodeImageURL undoes the extra percent-encoding the frame applies to the
// avatar URL. URLs that already carry a scheme separator are kept as is.
func decodeImageURL(raw string) string {
	if raw == "" || strings.Contains(raw, "://") {
		return raw
	}
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// CardService renders stats cards
type CardService struct {
	price    PriceQuoter
	deriver  *derive.Deriver
	renderer card.Renderer
	fonts    *card.FontRegistry
	assets   card.Assets
	log      zerolog.Logger
}

// NewCardService creates a card service
func NewCardService(
	price PriceQuoter,
	deriver *derive.Deriver,
	renderer card.Renderer,
	fonts *card.FontRegistry,
	assets card.Assets,
	log zerolog.Logger,
) *CardService {
	return &CardService{
		price:    price,
		deriver:  deriver,
		renderer: renderer,
		fonts:    fonts,
		assets:   assets,
		log:      log.With().Str("component", "card_service").Logger(),
	}
}

// Describe runs price lookup, derivation and layout for q
func (s *CardService) Describe(ctx context.Context, q CardQuery) *card.Descriptor {
	quote := s.price.Current(ctx)

	bundle := s.deriver.Derive(q.Earnings, q.Profile.Score, quote.USDPrice)

	root := card.Compose(card.Input{
		Profile:    q.Profile,
		Earnings:   bundle.Earnings,
		Engagement: bundle.Engagement,
	}, s.assets)

	return card.NewDescriptor(root, s.fonts)
}

// RenderCard returns the PNG card for q. Upstream failures degrade to
// fallback values; only a rasterization failure is returned.
func (s *CardService) RenderCard(ctx context.Context, q CardQuery) ([]byte, error) {
	start := time.Now()

	png, err := s.renderer.Render(ctx, s.Describe(ctx, q))

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.CardsRendered.WithLabelValues(status).Inc()
	metrics.RenderDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, fmt.Errorf("rendering card: %w", err)
	}

	s.log.Debug().
		Str("handle", q.Profile.Handle).
		Int("bytes", len(png)).
		Dur("duration", time.Since(start)).
		Msg("Card rendered")

	return png, nil
}
