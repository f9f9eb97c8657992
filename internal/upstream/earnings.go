package upstream

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/moxie-stats/internal/domain"
)

// EarningsClient looks up the Moxie earnings of a user
type EarningsClient struct {
	baseURL string
	api     requester
	log     zerolog.Logger
}

// NewEarningsClient creates a client for the earnings endpoint at baseURL
func NewEarningsClient(baseURL string, timeout time.Duration, limiter *rate.Limiter, log zerolog.Logger) *EarningsClient {
	return &EarningsClient{
		baseURL: baseURL,
		api:     newRequester(timeout, limiter),
		log:     log.With().Str("client", "earnings").Logger(),
	}
}

type earningsPeriod struct {
	AllEarningsAmount Numeral `json:"allEarningsAmount"`
}

type earningsResponse struct {
	Today    *earningsPeriod `json:"today"`
	Weekly   *earningsPeriod `json:"weekly"`
	Lifetime *earningsPeriod `json:"lifetime"`
}

func (p *earningsPeriod) amount() string {
	if p == nil {
		return domain.DefaultEarnings
	}
	return p.AllEarningsAmount.Or(domain.DefaultEarnings)
}

// Lookup returns the earnings of fid; absent periods are "0".
func (c *EarningsClient) Lookup(ctx context.Context, fid string) (domain.RawEarnings, error) {
	endpoint := c.baseURL + "?entityId=" + url.QueryEscape(fid)
	c.log.Debug().Str("fid", fid).Msg("Fetching earnings")

	var body earningsResponse
	if err := c.api.getJSON(ctx, endpoint, nil, &body); err != nil {
		return domain.RawEarnings{}, fmt.Errorf("earnings lookup: %w", err)
	}

	return domain.RawEarnings{
		Daily:    body.Today.amount(),
		Weekly:   body.Weekly.amount(),
		Lifetime: body.Lifetime.amount(),
	}, nil
}
