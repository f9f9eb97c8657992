package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/moxie-stats/internal/derive"
	"github.com/moxie-stats/internal/domain"
	"github.com/moxie-stats/internal/numfmt"
	"github.com/moxie-stats/internal/websocket"
)

// ReputationStore is the live reputation ranking
type ReputationStore interface {
	Apply(ctx context.Context, updates []domain.ReputationUpdate) error
	Get(ctx context.Context, fid string) (*domain.ReputationEntry, error)
}

// StatsBroadcaster pushes stats updates to live subscribers
type StatsBroadcaster interface {
	BroadcastStatsUpdate(update websocket.StatsUpdate)
}

// ReputationService applies ingested reputation updates
type ReputationService struct {
	store   ReputationStore
	hub     StatsBroadcaster
	price   PriceQuoter
	deriver *derive.Deriver
	log     zerolog.Logger
}

// NewReputationService creates a reputation service. hub may be nil.
func NewReputationService(store ReputationStore, hub StatsBroadcaster, price PriceQuoter, deriver *derive.Deriver, log zerolog.Logger) *ReputationService {
	return &ReputationService{
		store:   store,
		hub:     hub,
		price:   price,
		deriver: deriver,
		log:     log.With().Str("component", "reputation_service").Logger(),
	}
}

// ApplyReputationBatch stores updates and notifies the subscribers of every
// updated fid once, with its new rank and engagement values.
func (s *ReputationService) ApplyReputationBatch(ctx context.Context, updates []domain.ReputationUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	if err := s.store.Apply(ctx, updates); err != nil {
		return fmt.Errorf("storing reputation batch: %w", err)
	}
	if s.hub == nil {
		return nil
	}

	quote := s.price.Current(ctx)
	seen := make(map[string]bool, len(updates))
	for i := len(updates) - 1; i >= 0; i-- {
		fid := updates[i].FID
		if seen[fid] {
			continue
		}
		seen[fid] = true

		entry, err := s.store.Get(ctx, fid)
		if err != nil {
			s.log.Warn().Err(err).Str("fid", fid).Msg("Updated reputation not readable, skipping broadcast")
			continue
		}

		score := numfmt.ToFixed(entry.Score, 2)
		s.hub.BroadcastStatsUpdate(websocket.StatsUpdate{
			FID:        fid,
			Score:      score,
			Rank:       entry.Rank,
			Engagement: s.deriver.Engagement(score, quote.USDPrice),
		})
	}

	s.log.Debug().Int("updates", len(updates)).Int("users", len(seen)).Msg("Applied reputation batch")
	return nil
}
