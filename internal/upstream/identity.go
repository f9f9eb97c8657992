package upstream

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/moxie-stats/internal/domain"
	"github.com/moxie-stats/internal/numfmt"
)

// IdentityClient looks up Farcaster profiles and their social capital
type IdentityClient struct {
	baseURL string
	api     requester
	log     zerolog.Logger
}

// NewIdentityClient creates a client for the farscore endpoint at baseURL
func NewIdentityClient(baseURL string, timeout time.Duration, limiter *rate.Limiter, log zerolog.Logger) *IdentityClient {
	return &IdentityClient{
		baseURL: baseURL,
		api:     newRequester(timeout, limiter),
		log:     log.With().Str("client", "identity").Logger(),
	}
}

type farscoreResponse struct {
	UserData struct {
		Socials struct {
			Social []farscoreSocial `json:"Social"`
		} `json:"Socials"`
	} `json:"userData"`
}

type farscoreSocial struct {
	ProfileDisplayName       string  `json:"profileDisplayName"`
	ProfileName              string  `json:"profileName"`
	UserID                   Numeral `json:"userId"`
	ProfileImage             string  `json:"profileImage"`
	ProfileImageContentValue *struct {
		Image *struct {
			ExtraSmall string `json:"extraSmall"`
		} `json:"image"`
	} `json:"profileImageContentValue"`
	SocialCapital *struct {
		Score *float64 `json:"socialCapitalScore"`
		Rank  Numeral  `json:"socialCapitalRank"`
	} `json:"socialCapital"`
}

// Lookup returns the first social profile of fid. A response without any
// profile yields domain.ErrUserNotFound; missing fields get the identity
// placeholders.
func (c *IdentityClient) Lookup(ctx context.Context, fid string) (domain.RawUserProfile, error) {
	endpoint := c.baseURL + "?userId=" + url.QueryEscape(fid)
	c.log.Debug().Str("fid", fid).Msg("Fetching identity")

	var body farscoreResponse
	if err := c.api.getJSON(ctx, endpoint, nil, &body); err != nil {
		return domain.RawUserProfile{}, fmt.Errorf("identity lookup: %w", err)
	}

	socials := body.UserData.Socials.Social
	if len(socials) == 0 {
		return domain.RawUserProfile{}, fmt.Errorf("identity lookup %s: %w", fid, domain.ErrUserNotFound)
	}

	return socials[0].profile(), nil
}

func (s farscoreSocial) profile() domain.RawUserProfile {
	p := domain.RawUserProfile{
		FID:         s.UserID.Or(domain.NotAvailable),
		DisplayName: firstNonEmpty(s.ProfileDisplayName, s.ProfileName, domain.UnknownName),
		Handle:      firstNonEmpty(s.ProfileName, domain.UnknownHandle),
		Score:       domain.NotAvailable,
		Rank:        domain.NotAvailable,
		AvatarURL:   s.ProfileImage,
	}

	if s.SocialCapital != nil {
		if s.SocialCapital.Score != nil {
			p.Score = numfmt.ToFixed(*s.SocialCapital.Score, 2)
		}
		if rank := string(s.SocialCapital.Rank); rank != "" && rank != "0" {
			p.Rank = rank
		}
	}

	if v := s.ProfileImageContentValue; v != nil && v.Image != nil && v.Image.ExtraSmall != "" {
		p.AvatarURL = v.Image.ExtraSmall
	}

	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
