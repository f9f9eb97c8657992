package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moxie-stats/internal/config"
	"github.com/moxie-stats/internal/domain"
	"github.com/moxie-stats/internal/service"
)

type fakeCards struct {
	got service.CardQuery
	err error
}

func (f *fakeCards) RenderCard(_ context.Context, q service.CardQuery) ([]byte, error) {
	f.got = q
	if f.err != nil {
		return nil, f.err
	}
	return []byte("\x89PNG"), nil
}

type fakePrice struct {
	quote domain.PriceQuote
	err   error
}

func (f fakePrice) Quote(context.Context) (domain.PriceQuote, error) {
	return f.quote, f.err
}

type fakeIdentity struct{}

func (fakeIdentity) Lookup(_ context.Context, fid string) (domain.RawUserProfile, error) {
	if fid == "404" {
		return domain.RawUserProfile{}, domain.ErrUserNotFound
	}
	return domain.RawUserProfile{FID: fid, DisplayName: "Dan", Handle: "dwr", Score: "10.00", Rank: "1"}, nil
}

type fakeEarnings struct{}

func (fakeEarnings) Lookup(context.Context, string) (domain.RawEarnings, error) {
	return domain.RawEarnings{Daily: "1", Weekly: "2", Lifetime: "3"}, nil
}

type fakeChecker struct{ err error }

func (f fakeChecker) Ping(context.Context) error { return f.err }

func newTestHandler(cards CardRenderer, price PriceSource) *Handler {
	app := config.DefaultConfig().App
	app.BaseURL = "https://frames.example.com"
	app.SplashImageURL = "https://cdn.example/splash.gif"

	frames := service.NewFrameService(fakeIdentity{}, fakeEarnings{}, app, time.Second, zerolog.Nop())
	return NewHandler(cards, frames, price, nil, zerolog.Nop())
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	h := newTestHandler(&fakeCards{}, fakePrice{})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestReadyCheck(t *testing.T) {
	h := newTestHandler(&fakeCards{}, fakePrice{})
	h.AddReadinessCheck("redis", fakeChecker{})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.AddReadinessCheck("postgres", fakeChecker{err: errors.New("connection refused")})
	rec = serve(h, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "postgres")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(&fakeCards{}, fakePrice{})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCardImage(t *testing.T) {
	cards := &fakeCards{}
	h := newTestHandler(cards, fakePrice{})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/og?name=dexter&score=12&today=1.5K", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG", rec.Body.String())

	assert.Equal(t, "dexter", cards.got.Profile.DisplayName)
	assert.Equal(t, "12", cards.got.Profile.Score)
	assert.Equal(t, "1.5K", cards.got.Earnings.Daily)
	assert.Equal(t, "0", cards.got.Earnings.Weekly)
}

func TestCardImage_RenderFailure(t *testing.T) {
	h := newTestHandler(&fakeCards{err: errors.New("boom")}, fakePrice{})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/og", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "failed to generate image", resp.Error)
}

func TestPrice(t *testing.T) {
	quote := domain.PriceQuote{USDPrice: 0.003, USDPriceFormatted: "0.003", PercentChange24h: "1.5"}
	h := newTestHandler(&fakeCards{}, fakePrice{quote: quote})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/moxie-price", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.PriceQuote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, quote, got)
}

func TestPrice_Fallback(t *testing.T) {
	h := newTestHandler(&fakeCards{}, fakePrice{err: domain.ErrUpstreamStatus})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/moxie-price", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var got domain.PriceQuote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, domain.FallbackPriceQuote(), got)
}

func TestFrames_Splash(t *testing.T) {
	h := newTestHandler(&fakeCards{}, fakePrice{})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/frames", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `<meta property="fc:frame" content="vNext">`)
	assert.Contains(t, body, `<meta property="fc:frame:image" content="https://cdn.example/splash.gif">`)
	assert.Contains(t, body, `<meta property="fc:frame:image:aspect_ratio" content="1.91:1">`)
	assert.Contains(t, body, `<meta property="fc:frame:button:1" content="My Stats">`)
	assert.Contains(t, body, `<meta property="fc:frame:button:1:action" content="post">`)
	assert.Contains(t, body, `<meta property="fc:frame:button:2" content="Cast Action">`)
	assert.Contains(t, body, `<meta property="fc:frame:button:2:action" content="link">`)
	assert.NotContains(t, body, "fc:frame:state")
}

func TestFrames_QueryFID(t *testing.T) {
	h := newTestHandler(&fakeCards{}, fakePrice{})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/frames?userfid=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `<meta property="fc:frame:button:1" content="Refresh">`)
	assert.Contains(t, body, `<meta property="fc:frame:button:3" content="Tip here">`)
	assert.Contains(t, body, `<meta property="fc:frame:post_url" content="https://frames.example.com/frames?userfid=3">`)
	assert.Contains(t, body, `<meta property="fc:frame:state" content="{&#34;lastFid&#34;:&#34;3&#34;}">`)
	assert.Contains(t, body, `content="https://frames.example.com/api/og?`)
}

func TestFrames_PostMessage(t *testing.T) {
	h := newTestHandler(&fakeCards{}, fakePrice{})

	body := `{"untrustedData":{"fid":7,"buttonIndex":1,"state":""}}`
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/frames?userfid=3", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `content="https://frames.example.com/frames?userfid=7"`)
}

func TestFrames_PostStateOnly(t *testing.T) {
	h := newTestHandler(&fakeCards{}, fakePrice{})

	body := `{"untrustedData":{"buttonIndex":1,"state":"%7B%22lastFid%22%3A%225%22%7D"}}`
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/frames", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<meta property="fc:frame:post_url" content="https://frames.example.com/frames?userfid=5">`)
}

func TestFrames_MalformedPostAndUnknownUser(t *testing.T) {
	h := newTestHandler(&fakeCards{}, fakePrice{})

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/frames?userfid=404", strings.NewReader("{not json")))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `content="My Stats"`)
	assert.Contains(t, body, `<meta property="fc:frame:image" content="https://cdn.example/splash.gif">`)
}

func TestLandingPage(t *testing.T) {
	h := newTestHandler(&fakeCards{}, fakePrice{})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "<title>Moxie Stats Frame</title>")
	assert.Contains(t, body, `<meta name="description" content="Check out my Moxie Stats!">`)
	assert.Contains(t, body, `<meta property="og:image" content="https://frames.example.com/api/og">`)
	assert.Contains(t, body, `<meta property="fc:frame:cast_action:url" content="https://frames.example.com/api/cast-action">`)
	assert.Contains(t, body, `content="My Stats"`)
}

func TestWebSocketNotRoutedWithoutHub(t *testing.T) {
	h := newTestHandler(&fakeCards{}, fakePrice{})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/ws/stats", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
