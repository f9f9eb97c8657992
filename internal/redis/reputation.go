// Package redis keeps the live reputation scores and ranks in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/moxie-stats/internal/config"
	"github.com/moxie-stats/internal/domain"
	"github.com/moxie-stats/internal/numfmt"
)

const scoresKey = "reputation:scores"

// ReputationStore provides Redis-based reputation operations
type ReputationStore struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewReputationStore connects to Redis
func NewReputationStore(ctx context.Context, cfg *config.RedisConfig, log zerolog.Logger) (*ReputationStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewReputationStoreWithClient(client, log), nil
}

// NewReputationStoreWithClient wraps an existing client
func NewReputationStoreWithClient(client *redis.Client, log zerolog.Logger) *ReputationStore {
	return &ReputationStore{
		client: client,
		log:    log.With().Str("component", "reputation_store").Logger(),
	}
}

// Close closes the Redis connection
func (s *ReputationStore) Close() error {
	return s.client.Close()
}

// Ping checks the connection
func (s *ReputationStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// profileKey returns the Redis key of a user's profile hash
func profileKey(fid string) string {
	return fmt.Sprintf("reputation:profile:%s", fid)
}

// Apply stores a batch of updates in one pipeline. Empty profile fields
// leave the stored value untouched.
func (s *ReputationStore) Apply(ctx context.Context, updates []domain.ReputationUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, u := range updates {
		pipe.ZAdd(ctx, scoresKey, redis.Z{Score: u.Score, Member: u.FID})

		fields := profileFields(u.DisplayName, u.Username, u.AvatarURL)
		if len(fields) > 0 {
			pipe.HSet(ctx, profileKey(u.FID), fields)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("applying reputation updates: %w", err)
	}
	return nil
}

func profileFields(displayName, username, avatarURL string) map[string]any {
	fields := map[string]any{}
	if displayName != "" {
		fields["display_name"] = displayName
	}
	if username != "" {
		fields["username"] = username
	}
	if avatarURL != "" {
		fields["avatar_url"] = avatarURL
	}
	return fields
}

// Get returns the score, rank and profile of fid
func (s *ReputationStore) Get(ctx context.Context, fid string) (*domain.ReputationEntry, error) {
	pipe := s.client.Pipeline()
	rankCmd := pipe.ZRevRank(ctx, scoresKey, fid)
	scoreCmd := pipe.ZScore(ctx, scoresKey, fid)
	profileCmd := pipe.HGetAll(ctx, profileKey(fid))
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("getting reputation: %w", err)
	}

	rank, err := rankCmd.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting rank result: %w", err)
	}

	score, err := scoreCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting score result: %w", err)
	}

	profile := profileCmd.Val()
	return &domain.ReputationEntry{
		FID:         fid,
		Score:       score,
		Rank:        rank + 1,
		DisplayName: profile["display_name"],
		Username:    profile["username"],
		AvatarURL:   profile["avatar_url"],
	}, nil
}

// Profile returns the stored identity of fid in the shape the identity
// source produces.
func (s *ReputationStore) Profile(ctx context.Context, fid string) (domain.RawUserProfile, error) {
	entry, err := s.Get(ctx, fid)
	if err != nil {
		return domain.RawUserProfile{}, err
	}
	return EntryProfile(entry), nil
}

// EntryProfile converts a stored entry into a profile with identity
// placeholders for absent fields.
func EntryProfile(e *domain.ReputationEntry) domain.RawUserProfile {
	name := e.DisplayName
	if name == "" {
		name = e.Username
	}
	if name == "" {
		name = domain.UnknownName
	}
	handle := e.Username
	if handle == "" {
		handle = domain.UnknownHandle
	}
	return domain.RawUserProfile{
		FID:         e.FID,
		DisplayName: name,
		Handle:      handle,
		AvatarURL:   e.AvatarURL,
		Score:       numfmt.ToFixed(e.Score, 2),
		Rank:        fmt.Sprintf("%d", e.Rank),
	}
}

// Count returns the number of scored users
func (s *ReputationStore) Count(ctx context.Context) (int64, error) {
	count, err := s.client.ZCard(ctx, scoresKey).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// All returns every entry ordered by rank, profiles included
func (s *ReputationStore) All(ctx context.Context) ([]domain.ReputationEntry, error) {
	results, err := s.client.ZRevRangeWithScores(ctx, scoresKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("getting all scores: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	profiles := make([]*redis.MapStringStringCmd, len(results))
	for i, result := range results {
		profiles[i] = pipe.HGetAll(ctx, profileKey(result.Member.(string)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("getting profiles: %w", err)
	}

	entries := make([]domain.ReputationEntry, len(results))
	for i, result := range results {
		profile := profiles[i].Val()
		entries[i] = domain.ReputationEntry{
			FID:         result.Member.(string),
			Score:       result.Score,
			Rank:        int64(i + 1),
			DisplayName: profile["display_name"],
			Username:    profile["username"],
			AvatarURL:   profile["avatar_url"],
		}
	}
	return entries, nil
}

// Restore loads entries, typically from the Postgres snapshot, in one
// pipeline. Stored ranks are ignored; Redis ranks by score.
func (s *ReputationStore) Restore(ctx context.Context, entries []domain.ReputationEntry) error {
	updates := make([]domain.ReputationUpdate, len(entries))
	for i, e := range entries {
		updates[i] = domain.ReputationUpdate{
			FID:         e.FID,
			Score:       e.Score,
			DisplayName: e.DisplayName,
			Username:    e.Username,
			AvatarURL:   e.AvatarURL,
		}
	}
	if err := s.Apply(ctx, updates); err != nil {
		return err
	}
	s.log.Info().Int("entries", len(entries)).Msg("Restored reputation entries")
	return nil
}

// Remove deletes fid and its profile
func (s *ReputationStore) Remove(ctx context.Context, fid string) error {
	pipe := s.client.Pipeline()
	pipe.ZRem(ctx, scoresKey, fid)
	pipe.Del(ctx, profileKey(fid))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing reputation: %w", err)
	}
	return nil
}
