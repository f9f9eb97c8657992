package domain

// Card placeholders used when the image request carries no value.
const (
	DefaultDisplayName = "User Name"
	DefaultHandle      = "username"
	DefaultScore       = "1000"
	DefaultRank        = "11200"
)

// Identity placeholders used when the identity source omits a field.
const (
	UnknownName     = "Unknown"
	UnknownHandle   = "unknown"
	NotAvailable    = "N/A"
	DefaultEarnings = "0"
)

// RawUserProfile is the identity snapshot a card is rendered from. Score and
// Rank are display strings; they are rendered verbatim.
type RawUserProfile struct {
	FID         string `json:"fid"`
	DisplayName string `json:"display_name"`
	Handle      string `json:"handle"`
	AvatarURL   string `json:"avatar_url"`
	Score       string `json:"score"`
	Rank        string `json:"rank"`
}

// WithCardDefaults returns a copy with every empty field replaced by the card
// placeholder.
func (p RawUserProfile) WithCardDefaults(defaultAvatarURL string) RawUserProfile {
	if p.AvatarURL == "" {
		p.AvatarURL = defaultAvatarURL
	}
	if p.DisplayName == "" {
		p.DisplayName = DefaultDisplayName
	}
	if p.Handle == "" {
		p.Handle = DefaultHandle
	}
	if p.Score == "" {
		p.Score = DefaultScore
	}
	if p.Rank == "" {
		p.Rank = DefaultRank
	}
	return p
}

// RawEarnings holds the plain decimal earning amounts of a user
type RawEarnings struct {
	Daily    string `json:"daily"`
	Weekly   string `json:"weekly"`
	Lifetime string `json:"lifetime"`
}

// WithDefaults fills empty amounts with "0"
func (e RawEarnings) WithDefaults() RawEarnings {
	if e.Daily == "" {
		e.Daily = DefaultEarnings
	}
	if e.Weekly == "" {
		e.Weekly = DefaultEarnings
	}
	if e.Lifetime == "" {
		e.Lifetime = DefaultEarnings
	}
	return e
}
