package domain

// FallbackUSDPrice is the unit price used whenever the price source fails.
const FallbackUSDPrice = 0.002713797027076074

// PriceQuote is the USD price of one Moxie token
type PriceQuote struct {
	USDPrice          float64 `json:"usdPrice"`
	USDPriceFormatted string  `json:"usdPriceFormatted"`
	PercentChange24h  string  `json:"24hrPercentChange"`
}

// FallbackPriceQuote returns the fixed quote substituted on price failures
func FallbackPriceQuote() PriceQuote {
	return PriceQuote{
		USDPrice:          FallbackUSDPrice,
		USDPriceFormatted: "0.002713797027076074",
		PercentChange24h:  "0",
	}
}

// Bucket keys of the card. Labels are derived by capitalizing the key.
const (
	BucketToday    = "today"
	BucketWeekly   = "weekly"
	BucketLifetime = "lifetime"

	ActionLike   = "like"
	ActionReply  = "reply"
	ActionRecast = "recast"
)

// MetricBucket is a pair of display strings for one period or engagement type
type MetricBucket struct {
	Key    string `json:"key"`
	Amount string `json:"amount"`
	USD    string `json:"usd"`
}

// MetricBundle holds every derived display value of a card
type MetricBundle struct {
	Earnings   []MetricBucket `json:"earnings"`
	Engagement []MetricBucket `json:"engagement"`
}

// EngagementMultipliers convert a reputation score into Moxie per action
type EngagementMultipliers struct {
	Like   float64
	Reply  float64
	Recast float64
}

// CanonicalMultipliers is the multiplier set used for every engagement value.
var CanonicalMultipliers = EngagementMultipliers{Like: 0.5, Reply: 2, Recast: 4}
