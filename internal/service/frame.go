package service

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/moxie-stats/internal/config"
	"github.com/moxie-stats/internal/domain"
	"github.com/moxie-stats/internal/metrics"
	"github.com/moxie-stats/internal/numfmt"
)

// IdentitySource resolves a fid to a profile
type IdentitySource interface {
	Lookup(ctx context.Context, fid string) (domain.RawUserProfile, error)
}

// EarningsSource resolves a fid to its earnings
type EarningsSource interface {
	Lookup(ctx context.Context, fid string) (domain.RawEarnings, error)
}

// ProfileStore is the fallback identity source
type ProfileStore interface {
	Profile(ctx context.Context, fid string) (domain.RawUserProfile, error)
}

// EarningsStore keeps the last known earnings of every user
type EarningsStore interface {
	SaveEarnings(ctx context.Context, fid string, earnings domain.RawEarnings) error
	GetEarnings(ctx context.Context, fid string) (*domain.EarningsSnapshot, error)
}

// InteractionRecorder logs frame button presses
type InteractionRecorder interface {
	RecordInteraction(ctx context.Context, in domain.Interaction) error
}

// Frame screens.
const (
	ScreenSplash = "splash"
	ScreenStats  = "stats"
)

// Button actions.
const (
	ActionPost = "post"
	ActionLink = "link"
)

// FrameRequest carries every place a fid can come from
type FrameRequest struct {
	Method string
	// MessageFID is the requester of a signed frame message.
	MessageFID  string
	QueryFID    string
	StateFID    string
	ButtonIndex int
}

// Button is one frame button
type Button struct {
	Label  string `json:"label"`
	Action string `json:"action"`
	Target string `json:"target"`
}

// Frame is a rendered frame screen
type Frame struct {
	Screen      string   `json:"screen"`
	FID         string   `json:"fid,omitempty"`
	Image       string   `json:"image"`
	AspectRatio string   `json:"aspect_ratio"`
	PostURL     string   `json:"post_url"`
	State       string   `json:"state,omitempty"`
	Buttons     []Button `json:"buttons"`
}

// frameState is the state round-tripped through the frame client
type frameState struct {
	LastFID string `json:"lastFid,omitempty"`
}

// ParseFrameState returns the lastFid stored in a frame state string
func ParseFrameState(raw string) string {
	if raw == "" {
		return ""
	}
	// Frame clients hand the state back percent-encoded.
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}
	var st frameState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return ""
	}
	return st.LastFID
}

// FrameService builds the interactive frame
type FrameService struct {
	identity     IdentitySource
	earnings     EarningsSource
	profiles     ProfileStore
	snapshots    EarningsStore
	interactions InteractionRecorder
	app          config.AppConfig
	timeout      time.Duration
	now          func() time.Time
	log          zerolog.Logger
}

// FrameOption configures optional FrameService collaborators
type FrameOption func(*FrameService)

// WithProfileStore sets the identity fallback
func WithProfileStore(store ProfileStore) FrameOption {
	return func(s *FrameService) { s.profiles = store }
}

// WithEarningsStore sets the earnings snapshot store
func WithEarningsStore(store EarningsStore) FrameOption {
	return func(s *FrameService) { s.snapshots = store }
}

// WithInteractionRecorder sets the interaction log
func WithInteractionRecorder(rec InteractionRecorder) FrameOption {
	return func(s *FrameService) { s.interactions = rec }
}

// WithClock overrides the clock used for cache busting
func WithClock(now func() time.Time) FrameOption {
	return func(s *FrameService) { s.now = now }
}

// NewFrameService creates a frame service. Each upstream lookup is bounded
// by timeout.
func NewFrameService(
	identity IdentitySource,
	earnings EarningsSource,
	app config.AppConfig,
	timeout time.Duration,
	log zerolog.Logger,
	opts ...FrameOption,
) *FrameService {
	s := &FrameService{
		identity: identity,
		earnings: earnings,
		app:      app,
		timeout:  timeout,
		now:      time.Now,
		log:      log.With().Str("component", "frame_service").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveFID picks the requester fid, then the query fid, then the fid kept
// in the frame state.
func ResolveFID(req FrameRequest) string {
	for _, fid := range []string{req.MessageFID, req.QueryFID, req.StateFID} {
		if fid = strings.TrimSpace(fid); fid != "" {
			return fid
		}
	}
	return ""
}

// Build produces the frame for req. Without a fid, or when the identity of
// the fid cannot be resolved, the splash screen is served.
func (s *FrameService) Build(ctx context.Context, req FrameRequest) Frame {
	fid := ResolveFID(req)

	var frame Frame
	if fid == "" {
		frame = s.splash(fid)
	} else {
		profile, earnings, err := s.lookup(ctx, fid)
		if err != nil {
			s.log.Warn().Err(err).Str("fid", fid).Msg("Identity unavailable, serving splash screen")
			frame = s.splash(fid)
		} else {
			frame = s.stats(fid, profile, earnings)
		}
	}

	method := strings.ToLower(req.Method)
	if method == "" {
		method = "get"
	}
	metrics.FrameScreens.WithLabelValues(frame.Screen, method).Inc()

	if strings.EqualFold(req.Method, "POST") {
		s.record(ctx, fid, req.ButtonIndex, frame.Screen)
	}

	return frame
}

// lookup fetches identity and earnings concurrently. Only an identity
// failure is returned; earnings degrade to the stored snapshot or zeros.
func (s *FrameService) lookup(ctx context.Context, fid string) (domain.RawUserProfile, domain.RawEarnings, error) {
	var (
		profile     domain.RawUserProfile
		earnings    domain.RawEarnings
		identityErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		profile, identityErr = s.lookupIdentity(gctx, fid)
		return nil
	})
	g.Go(func() error {
		earnings = s.lookupEarnings(gctx, fid)
		return nil
	})
	_ = g.Wait()

	return profile, earnings, identityErr
}

func (s *FrameService) lookupIdentity(ctx context.Context, fid string) (domain.RawUserProfile, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	profile, err := s.identity.Lookup(callCtx, fid)
	if err == nil {
		return profile, nil
	}
	metrics.UpstreamFallbacks.WithLabelValues(metrics.SourceIdentity).Inc()

	if s.profiles == nil {
		return domain.RawUserProfile{}, err
	}

	s.log.Warn().Err(err).Str("fid", fid).Msg("Identity source failed, using stored reputation")
	stored, storeErr := s.profiles.Profile(ctx, fid)
	if storeErr != nil {
		return domain.RawUserProfile{}, err
	}
	return stored, nil
}

func (s *FrameService) lookupEarnings(ctx context.Context, fid string) domain.RawEarnings {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	earnings, err := s.earnings.Lookup(callCtx, fid)
	if err == nil {
		if s.snapshots != nil {
			if err := s.snapshots.SaveEarnings(ctx, fid, earnings); err != nil {
				s.log.Warn().Err(err).Str("fid", fid).Msg("Failed to store earnings snapshot")
			}
		}
		return earnings.WithDefaults()
	}
	metrics.UpstreamFallbacks.WithLabelValues(metrics.SourceEarnings).Inc()

	if s.snapshots != nil {
		if snap, snapErr := s.snapshots.GetEarnings(ctx, fid); snapErr == nil {
			s.log.Warn().Err(err).Str("fid", fid).Time("snapshot_at", snap.UpdatedAt).Msg("Earnings source failed, using snapshot")
			return snap.Earnings.WithDefaults()
		}
	}

	s.log.Warn().Err(err).Str("fid", fid).Msg("Earnings source failed, using zeros")
	return domain.RawEarnings{}.WithDefaults()
}

func (s *FrameService) record(ctx context.Context, fid string, button int, screen string) {
	if s.interactions == nil || fid == "" {
		return
	}
	err := s.interactions.RecordInteraction(ctx, domain.Interaction{
		FID:         fid,
		ButtonIndex: button,
		Screen:      screen,
		CreatedAt:   s.now(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("fid", fid).Msg("Failed to record interaction")
	}
}

func (s *FrameService) splash(fid string) Frame {
	return Frame{
		Screen:      ScreenSplash,
		FID:         fid,
		Image:       s.app.SplashImageURL,
		AspectRatio: "1.91:1",
		PostURL:     s.framesURL(fid),
		State:       encodeState(fid),
		Buttons: []Button{
			{Label: "My Stats", Action: ActionPost, Target: s.framesURL(fid)},
			{Label: "Cast Action", Action: ActionLink, Target: s.AddCastActionURL()},
		},
	}
}

func (s *FrameService) stats(fid string, profile domain.RawUserProfile, earnings domain.RawEarnings) Frame {
	return Frame{
		Screen:      ScreenStats,
		FID:         fid,
		Image:       s.CardURL(profile, earnings),
		AspectRatio: "1.91:1",
		PostURL:     s.framesURL(fid),
		State:       encodeState(fid),
		Buttons: []Button{
			{Label: "Refresh", Action: ActionPost, Target: s.framesURL(fid)},
			{Label: "Share", Action: ActionLink, Target: s.ShareURL(fid)},
			{Label: "Tip here", Action: ActionLink, Target: s.app.TipURL},
		},
	}
}

func encodeState(fid string) string {
	if fid == "" {
		return ""
	}
	data, err := json.Marshal(frameState{LastFID: fid})
	if err != nil {
		return ""
	}
	return string(data)
}

// framesURL is the frame endpoint, pinned to fid when one is known
func (s *FrameService) framesURL(fid string) string {
	u := s.app.BaseURL + "/frames"
	if fid != "" {
		u += "?userfid=" + url.QueryEscape(fid)
	}
	return u
}

// CardURL is the card image URL of a profile. Earnings are reformatted in
// compact form; the avatar URL is percent-encoded before being added to the
// query. The cache parameter defeats client side image caching.
func (s *FrameService) CardURL(profile domain.RawUserProfile, earnings domain.RawEarnings) string {
	earnings = earnings.WithDefaults()
	compact := func(raw string) string {
		return numfmt.FormatCompact(numfmt.OrZero(numfmt.ParseCompact(raw)))
	}

	q := url.Values{}
	q.Set("name", nonEmpty(profile.DisplayName, domain.UnknownName))
	q.Set("username", nonEmpty(profile.Handle, domain.UnknownHandle))
	q.Set("score", nonEmpty(profile.Score, domain.NotAvailable))
	q.Set("rank", nonEmpty(profile.Rank, domain.NotAvailable))
	q.Set("today", compact(earnings.Daily))
	q.Set("weekly", compact(earnings.Weekly))
	q.Set("lifetime", compact(earnings.Lifetime))
	q.Set("profileImageUrl", encodeURIComponent(profile.AvatarURL))
	q.Set("cache", strconv.FormatInt(s.now().UnixMilli(), 10))

	return s.app.BaseURL + "/api/og?" + q.Encode()
}

// ShareURL is the compose link that embeds the frame of fid
func (s *FrameService) ShareURL(fid string) string {
	return s.app.ComposeURL +
		"?text=" + encodeURIComponent(s.app.ShareText) +
		"&embeds[]=" + s.framesURL(fid)
}

// AddCastActionURL is the link that installs the cast action
func (s *FrameService) AddCastActionURL() string {
	return s.app.AddCastActionURL + "?url=" + url.QueryEscape(s.app.BaseURL+"/api/cast-action")
}

// Metadata describes the landing page of the service
type Metadata struct {
	Title         string
	Description   string
	OGTitle       string
	OGImage       string
	CastActionURL string
	Frame         Frame
}

// Metadata builds the landing page metadata. The embedded frame is the one
// served for fid.
func (s *FrameService) Metadata(ctx context.Context, fid string) Metadata {
	return Metadata{
		Title:         "Moxie Stats Frame",
		Description:   "Check out my Moxie Stats!",
		OGTitle:       "Moxie Stats",
		OGImage:       s.app.BaseURL + "/api/og",
		CastActionURL: s.app.BaseURL + "/api/cast-action",
		Frame:         s.Build(ctx, FrameRequest{Method: "GET", QueryFID: fid}),
	}
}

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// encodeURIComponent escapes s for use inside a query value, encoding
// spaces as %20.
func encodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
