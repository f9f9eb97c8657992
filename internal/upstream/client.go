// Package upstream talks to the price, identity and earnings services.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/moxie-stats/internal/domain"
)

// maxBodyBytes caps a single upstream JSON response.
const maxBodyBytes = 1 << 20

// NewLimiter creates the outbound limiter shared by every client. A
// non-positive rate disables limiting.
func NewLimiter(requestsPerSecond float64) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := max(int(requestsPerSecond), 1)
	return rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// requester performs rate limited JSON GET requests
type requester struct {
	client  *http.Client
	limiter *rate.Limiter
}

func newRequester(timeout time.Duration, limiter *rate.Limiter) requester {
	if limiter == nil {
		limiter = NewLimiter(0)
	}
	return requester{
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// getJSON decodes the body of a GET on url into out. Non-200 answers are
// reported as domain.ErrUpstreamStatus.
func (r requester) getJSON(ctx context.Context, url string, header http.Header, out any) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", domain.ErrUpstreamStatus, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Numeral is a JSON value that may be sent either as a string or as a number.
// It keeps the text as sent; null and absent values stay empty.
type Numeral string

// UnmarshalJSON accepts "12.5", 12.5 and null
func (n *Numeral) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "null":
		*n = ""
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("numeral: %w", err)
		}
		*n = Numeral(s)
	default:
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return fmt.Errorf("numeral %q: %w", raw, err)
		}
		*n = Numeral(raw)
	}
	return nil
}

// Or returns the numeral text, or fallback when empty
func (n Numeral) Or(fallback string) string {
	if n == "" {
		return fallback
	}
	return string(n)
}
