package domain

import "time"

// ReputationUpdate is a reputation change published on the ingestion topic
type ReputationUpdate struct {
	FID         string    `json:"fid"`
	Score       float64   `json:"score"`
	DisplayName string    `json:"display_name,omitempty"`
	Username    string    `json:"username,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

// ReputationEntry is a stored reputation with its rank
type ReputationEntry struct {
	FID         string  `json:"fid"`
	Score       float64 `json:"score"`
	Rank        int64   `json:"rank"`
	DisplayName string  `json:"display_name,omitempty"`
	Username    string  `json:"username,omitempty"`
	AvatarURL   string  `json:"avatar_url,omitempty"`
}

// EarningsSnapshot is the last known earnings of a user
type EarningsSnapshot struct {
	FID       string      `json:"fid"`
	Earnings  RawEarnings `json:"earnings"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Interaction records a button press on the frame
type Interaction struct {
	FID         string    `json:"fid"`
	ButtonIndex int       `json:"button_index"`
	Screen      string    `json:"screen"`
	CreatedAt   time.Time `json:"created_at"`
}
