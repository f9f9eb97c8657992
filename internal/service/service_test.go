package service

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moxie-stats/internal/card"
	"github.com/moxie-stats/internal/config"
	"github.com/moxie-stats/internal/derive"
	"github.com/moxie-stats/internal/domain"
	"github.com/moxie-stats/internal/redis"
	"github.com/moxie-stats/internal/websocket"
)

type fixedPrice float64

func (p fixedPrice) Current(context.Context) domain.PriceQuote {
	return domain.PriceQuote{USDPrice: float64(p)}
}

type stubRenderer struct {
	got *card.Descriptor
	err error
}

func (r *stubRenderer) Render(_ context.Context, d *card.Descriptor) ([]byte, error) {
	r.got = d
	if r.err != nil {
		return nil, r.err
	}
	return []byte("png"), nil
}

type stubIdentity struct {
	profile domain.RawUserProfile
	err     error
}

func (s stubIdentity) Lookup(context.Context, string) (domain.RawUserProfile, error) {
	return s.profile, s.err
}

type stubEarnings struct {
	earnings domain.RawEarnings
	err      error
}

func (s stubEarnings) Lookup(context.Context, string) (domain.RawEarnings, error) {
	return s.earnings, s.err
}

type stubProfiles struct {
	profile domain.RawUserProfile
	err     error
}

func (s stubProfiles) Profile(context.Context, string) (domain.RawUserProfile, error) {
	return s.profile, s.err
}

type memoryEarnings struct {
	mu    sync.Mutex
	saved map[string]domain.RawEarnings
}

func (m *memoryEarnings) SaveEarnings(_ context.Context, fid string, e domain.RawEarnings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string]domain.RawEarnings{}
	}
	m.saved[fid] = e
	return nil
}

func (m *memoryEarnings) GetEarnings(_ context.Context, fid string) (*domain.EarningsSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.saved[fid]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &domain.EarningsSnapshot{FID: fid, Earnings: e}, nil
}

type memoryInteractions struct {
	mu  sync.Mutex
	got []domain.Interaction
}

func (m *memoryInteractions) RecordInteraction(_ context.Context, in domain.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, in)
	return nil
}

func testApp() config.AppConfig {
	cfg := config.DefaultConfig().App
	cfg.BaseURL = "https://frames.example.com"
	cfg.ShareText = "my stats"
	return cfg
}

var fixedNow = time.UnixMilli(1700000000000)

func newFrameService(identity IdentitySource, earnings EarningsSource, opts ...FrameOption) *FrameService {
	opts = append(opts, WithClock(func() time.Time { return fixedNow }))
	return NewFrameService(identity, earnings, testApp(), time.Second, zerolog.Nop(), opts...)
}

func nodeText(t *testing.T, root *card.Node, name string) string {
	t.Helper()
	n := root.Find(name)
	require.NotNil(t, n, name)
	return n.Text
}

func TestParseCardQuery(t *testing.T) {
	q, err := url.ParseQuery("name=dexter&score=1234.5&today=1.2K&profileImageUrl=https%253A%252F%252Fimg.example%252Fa.png")
	require.NoError(t, err)

	cq := ParseCardQuery(q)
	assert.Equal(t, "dexter", cq.Profile.DisplayName)
	assert.Equal(t, "1234.5", cq.Profile.Score)
	assert.Equal(t, "https://img.example/a.png", cq.Profile.AvatarURL)
	assert.Empty(t, cq.Profile.Handle)
	assert.Equal(t, domain.RawEarnings{Daily: "1.2K", Weekly: "0", Lifetime: "0"}, cq.Earnings)
}

func TestParseCardQuery_PlainImageURL(t *testing.T) {
	cq := ParseCardQuery(url.Values{"profileImageUrl": {"https://img.example/a%20b.png"}})
	assert.Equal(t, "https://img.example/a%20b.png", cq.Profile.AvatarURL)
}

func TestCardService_Describe(t *testing.T) {
	svc := NewCardService(fixedPrice(0.0027), derive.NewCanonical(), &stubRenderer{}, card.BundledFonts(),
		card.Assets{BackgroundURL: "https://cdn.example/bg.png", DefaultAvatarURL: "https://example.com/default-avatar.png"},
		zerolog.Nop())

	d := svc.Describe(context.Background(), ParseCardQuery(url.Values{"today": {"100"}}))
	require.NotNil(t, d)
	assert.Equal(t, card.CanvasWidth, d.Width)
	assert.NotEmpty(t, d.Fonts)

	assert.Equal(t, "USER NAME", nodeText(t, d.Root, "profile.name"))
	assert.Equal(t, "1000", nodeText(t, d.Root, "score.value"))
	assert.Equal(t, "Rank: 11200", nodeText(t, d.Root, "score.rank"))
	assert.Equal(t, "100", nodeText(t, d.Root, "earnings.today.amount"))
	assert.Equal(t, "$0.27", nodeText(t, d.Root, "earnings.today.usd"))
	assert.Equal(t, "500.00", nodeText(t, d.Root, "engagement.like.amount"))
	assert.Equal(t, "4.0K", nodeText(t, d.Root, "engagement.recast.amount"))
	assert.Equal(t, "https://example.com/default-avatar.png", d.Root.Find("profile.avatar").Src)
}

func TestCardService_RenderCard(t *testing.T) {
	renderer := &stubRenderer{}
	svc := NewCardService(fixedPrice(0.0027), derive.NewCanonical(), renderer, card.BundledFonts(), card.Assets{}, zerolog.Nop())

	png, err := svc.RenderCard(context.Background(), CardQuery{})
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), png)
	require.NotNil(t, renderer.got)

	renderer.err = errors.New("encoder broke")
	_, err = svc.RenderCard(context.Background(), CardQuery{})
	assert.ErrorContains(t, err, "encoder broke")
}

func TestResolveFID(t *testing.T) {
	assert.Equal(t, "1", ResolveFID(FrameRequest{MessageFID: "1", QueryFID: "2", StateFID: "3"}))
	assert.Equal(t, "2", ResolveFID(FrameRequest{QueryFID: "2", StateFID: "3"}))
	assert.Equal(t, "3", ResolveFID(FrameRequest{StateFID: "3"}))
	assert.Equal(t, "", ResolveFID(FrameRequest{QueryFID: "  "}))
}

func TestParseFrameState(t *testing.T) {
	assert.Equal(t, "42", ParseFrameState(`{"lastFid":"42"}`))
	assert.Equal(t, "42", ParseFrameState(`%7B%22lastFid%22%3A%2242%22%7D`))
	assert.Equal(t, "", ParseFrameState("garbage"))
	assert.Equal(t, "", ParseFrameState(""))
}

func TestFrameService_SplashWithoutFID(t *testing.T) {
	svc := newFrameService(stubIdentity{err: errors.New("must not be called")}, stubEarnings{})

	frame := svc.Build(context.Background(), FrameRequest{Method: "GET"})
	assert.Equal(t, ScreenSplash, frame.Screen)
	assert.Equal(t, testApp().SplashImageURL, frame.Image)
	assert.Equal(t, "1.91:1", frame.AspectRatio)
	assert.Empty(t, frame.State)

	require.Len(t, frame.Buttons, 2)
	assert.Equal(t, Button{Label: "My Stats", Action: ActionPost, Target: "https://frames.example.com/frames"}, frame.Buttons[0])
	assert.Equal(t, "Cast Action", frame.Buttons[1].Label)
	assert.Equal(t, "https://warpcast.com/~/add-cast-action?url=https%3A%2F%2Fframes.example.com%2Fapi%2Fcast-action", frame.Buttons[1].Target)
}

func TestFrameService_Stats(t *testing.T) {
	profile := domain.RawUserProfile{
		FID:         "3",
		DisplayName: "Dan",
		Handle:      "dwr",
		Score:       "1234.57",
		Rank:        "7",
		AvatarURL:   "https://img.example/a b.png",
	}
	snapshots := &memoryEarnings{}
	svc := newFrameService(
		stubIdentity{profile: profile},
		stubEarnings{earnings: domain.RawEarnings{Daily: "1500", Weekly: "12.5"}},
		WithEarningsStore(snapshots),
	)

	frame := svc.Build(context.Background(), FrameRequest{Method: "GET", QueryFID: "3"})
	assert.Equal(t, ScreenStats, frame.Screen)
	assert.Equal(t, "3", frame.FID)
	assert.Equal(t, `{"lastFid":"3"}`, frame.State)
	assert.Equal(t, "https://frames.example.com/frames?userfid=3", frame.PostURL)

	require.Len(t, frame.Buttons, 3)
	assert.Equal(t, "Refresh", frame.Buttons[0].Label)
	assert.Equal(t, "https://frames.example.com/frames?userfid=3", frame.Buttons[0].Target)
	assert.Equal(t, "Share", frame.Buttons[1].Label)
	assert.Equal(t, "https://warpcast.com/~/compose?text=my%20stats&embeds[]=https://frames.example.com/frames?userfid=3", frame.Buttons[1].Target)
	assert.Equal(t, Button{Label: "Tip here", Action: ActionLink, Target: testApp().TipURL}, frame.Buttons[2])

	image, err := url.Parse(frame.Image)
	require.NoError(t, err)
	assert.Equal(t, "/api/og", image.Path)
	q := image.Query()
	assert.Equal(t, "Dan", q.Get("name"))
	assert.Equal(t, "dwr", q.Get("username"))
	assert.Equal(t, "1234.57", q.Get("score"))
	assert.Equal(t, "7", q.Get("rank"))
	assert.Equal(t, "1.5K", q.Get("today"))
	assert.Equal(t, "12.50", q.Get("weekly"))
	assert.Equal(t, "0.00", q.Get("lifetime"))
	assert.Equal(t, "https%3A%2F%2Fimg.example%2Fa%20b.png", q.Get("profileImageUrl"))
	assert.Equal(t, "1700000000000", q.Get("cache"))

	// the card endpoint decodes the avatar back
	assert.Equal(t, profile.AvatarURL, ParseCardQuery(q).Profile.AvatarURL)

	assert.Equal(t, "1500", snapshots.saved["3"].Daily)
}

func TestFrameService_IdentityFailure(t *testing.T) {
	svc := newFrameService(stubIdentity{err: domain.ErrUpstreamStatus}, stubEarnings{})

	frame := svc.Build(context.Background(), FrameRequest{Method: "GET", QueryFID: "3"})
	assert.Equal(t, ScreenSplash, frame.Screen)
	assert.Equal(t, "My Stats", frame.Buttons[0].Label)
	assert.Equal(t, "https://frames.example.com/frames?userfid=3", frame.Buttons[0].Target)
}

func TestFrameService_IdentityFallsBackToStore(t *testing.T) {
	stored := domain.RawUserProfile{FID: "3", DisplayName: "Stored", Handle: "stored", Score: "10.00", Rank: "1"}
	svc := newFrameService(
		stubIdentity{err: domain.ErrUpstreamStatus},
		stubEarnings{},
		WithProfileStore(stubProfiles{profile: stored}),
	)

	frame := svc.Build(context.Background(), FrameRequest{Method: "GET", QueryFID: "3"})
	require.Equal(t, ScreenStats, frame.Screen)

	image, err := url.Parse(frame.Image)
	require.NoError(t, err)
	assert.Equal(t, "Stored", image.Query().Get("name"))
}

func TestFrameService_StoreMissStillSplash(t *testing.T) {
	svc := newFrameService(
		stubIdentity{err: domain.ErrUpstreamStatus},
		stubEarnings{},
		WithProfileStore(stubProfiles{err: domain.ErrUserNotFound}),
	)

	frame := svc.Build(context.Background(), FrameRequest{Method: "GET", QueryFID: "3"})
	assert.Equal(t, ScreenSplash, frame.Screen)
}

func TestFrameService_EarningsFallbacks(t *testing.T) {
	profile := domain.RawUserProfile{DisplayName: "Dan", Handle: "dwr"}
	snapshots := &memoryEarnings{}
	require.NoError(t, snapshots.SaveEarnings(context.Background(), "3", domain.RawEarnings{Daily: "2000000", Weekly: "0", Lifetime: "0"}))

	svc := newFrameService(stubIdentity{profile: profile}, stubEarnings{err: errors.New("timeout")}, WithEarningsStore(snapshots))
	frame := svc.Build(context.Background(), FrameRequest{Method: "GET", QueryFID: "3"})
	image, err := url.Parse(frame.Image)
	require.NoError(t, err)
	assert.Equal(t, "2.0M", image.Query().Get("today"))

	svc = newFrameService(stubIdentity{profile: profile}, stubEarnings{err: errors.New("timeout")})
	frame = svc.Build(context.Background(), FrameRequest{Method: "GET", QueryFID: "4"})
	require.Equal(t, ScreenStats, frame.Screen)
	image, err = url.Parse(frame.Image)
	require.NoError(t, err)
	assert.Equal(t, "0.00", image.Query().Get("today"))
	assert.Equal(t, "N/A", image.Query().Get("score"))
}

func TestFrameService_RecordsPostInteractions(t *testing.T) {
	rec := &memoryInteractions{}
	svc := newFrameService(stubIdentity{profile: domain.RawUserProfile{Handle: "dwr"}}, stubEarnings{}, WithInteractionRecorder(rec))

	svc.Build(context.Background(), FrameRequest{Method: "POST", MessageFID: "9", ButtonIndex: 1})
	svc.Build(context.Background(), FrameRequest{Method: "GET", QueryFID: "9"})
	svc.Build(context.Background(), FrameRequest{Method: "POST"})

	require.Len(t, rec.got, 1)
	assert.Equal(t, domain.Interaction{FID: "9", ButtonIndex: 1, Screen: ScreenStats, CreatedAt: fixedNow}, rec.got[0])
}

func TestFrameService_Metadata(t *testing.T) {
	svc := newFrameService(stubIdentity{}, stubEarnings{})

	meta := svc.Metadata(context.Background(), "")
	assert.Equal(t, "Moxie Stats Frame", meta.Title)
	assert.Equal(t, "Check out my Moxie Stats!", meta.Description)
	assert.Equal(t, "https://frames.example.com/api/og", meta.OGImage)
	assert.Equal(t, "https://frames.example.com/api/cast-action", meta.CastActionURL)
	assert.Equal(t, ScreenSplash, meta.Frame.Screen)
}

type recordingHub struct {
	mu      sync.Mutex
	updates []websocket.StatsUpdate
}

func (h *recordingHub) BroadcastStatsUpdate(u websocket.StatsUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, u)
}

func TestReputationService_ApplyReputationBatch(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := redis.NewReputationStoreWithClient(client, zerolog.Nop())

	hub := &recordingHub{}
	svc := NewReputationService(store, hub, fixedPrice(0.0027), derive.NewCanonical(), zerolog.Nop())

	require.NoError(t, svc.ApplyReputationBatch(context.Background(), []domain.ReputationUpdate{
		{FID: "1", Score: 500},
		{FID: "2", Score: 2000},
		{FID: "1", Score: 1000},
	}))

	require.Len(t, hub.updates, 2)
	byFID := map[string]websocket.StatsUpdate{}
	for _, u := range hub.updates {
		byFID[u.FID] = u
	}

	assert.Equal(t, "1000.00", byFID["1"].Score)
	assert.Equal(t, int64(2), byFID["1"].Rank)
	require.Len(t, byFID["1"].Engagement, 3)
	assert.Equal(t, domain.MetricBucket{Key: domain.ActionLike, Amount: "500.00", USD: "1.35"}, byFID["1"].Engagement[0])
	assert.Equal(t, int64(1), byFID["2"].Rank)

	assert.NoError(t, svc.ApplyReputationBatch(context.Background(), nil))
}

func TestReputationService_WithoutHub(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := redis.NewReputationStoreWithClient(client, zerolog.Nop())

	svc := NewReputationService(store, nil, fixedPrice(0.0027), derive.NewCanonical(), zerolog.Nop())
	require.NoError(t, svc.ApplyReputationBatch(context.Background(), []domain.ReputationUpdate{{FID: "1", Score: 5}}))

	entry, err := store.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, entry.Score)
}
