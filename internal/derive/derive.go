// Package derive turns raw earnings and a reputation score into the display
// values printed on the card.
package derive

import (
	"math"

	"github.com/moxie-stats/internal/domain"
	"github.com/moxie-stats/internal/numfmt"
)

// Deriver computes USD equivalents and engagement values
type Deriver struct {
	multipliers domain.EngagementMultipliers
}

// New creates a deriver using the given multiplier set
func New(multipliers domain.EngagementMultipliers) *Deriver {
	return &Deriver{multipliers: multipliers}
}

// NewCanonical creates a deriver using domain.CanonicalMultipliers
func NewCanonical() *Deriver {
	return New(domain.CanonicalMultipliers)
}

// UnitPrice returns price, or the fallback price when price is not a usable
// positive number.
func UnitPrice(price float64) float64 {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return domain.FallbackUSDPrice
	}
	return price
}

// Derive builds the earnings and engagement buckets. It never fails: bad
// numerals count as zero and a bad price is replaced by the fallback.
func (d *Deriver) Derive(earnings domain.RawEarnings, score string, price float64) domain.MetricBundle {
	return domain.MetricBundle{
		Earnings:   d.Earnings(earnings, price),
		Engagement: d.Engagement(score, price),
	}
}

// Earnings keeps each raw amount as given and formats its USD value.
func (d *Deriver) Earnings(earnings domain.RawEarnings, price float64) []domain.MetricBucket {
	price = UnitPrice(price)
	earnings = earnings.WithDefaults()

	bucket := func(key, raw string) domain.MetricBucket {
		amount := numfmt.OrZero(numfmt.ParseCompact(raw))
		return domain.MetricBucket{
			Key:    key,
			Amount: raw,
			USD:    numfmt.FormatCompact(amount * price),
		}
	}

	return []domain.MetricBucket{
		bucket(domain.BucketToday, earnings.Daily),
		bucket(domain.BucketWeekly, earnings.Weekly),
		bucket(domain.BucketLifetime, earnings.Lifetime),
	}
}

// Engagement derives the Moxie value of a like, reply and recast from score.
func (d *Deriver) Engagement(score string, price float64) []domain.MetricBucket {
	price = UnitPrice(price)
	if score == "" {
		score = domain.DefaultScore
	}
	base := numfmt.OrZero(numfmt.ParseCompact(score))

	bucket := func(key string, multiplier float64) domain.MetricBucket {
		moxie := base * multiplier
		return domain.MetricBucket{
			Key:    key,
			Amount: numfmt.FormatCompact(moxie),
			USD:    numfmt.FormatCompact(moxie * price),
		}
	}

	return []domain.MetricBucket{
		bucket(domain.ActionLike, d.multipliers.Like),
		bucket(domain.ActionReply, d.multipliers.Reply),
		bucket(domain.ActionRecast, d.multipliers.Recast),
	}
}
