// Package postgres persists reputation snapshots, earnings snapshots and
// frame interactions.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/moxie-stats/internal/config"
	"github.com/moxie-stats/internal/domain"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, log zerolog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool: pool,
		log:  log.With().Str("component", "postgres").Logger(),
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS reputation_snapshots (
			fid VARCHAR(64) PRIMARY KEY,
			score DOUBLE PRECISION NOT NULL,
			rank BIGINT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS earnings_snapshots (
			fid VARCHAR(64) PRIMARY KEY,
			today TEXT NOT NULL DEFAULT '0',
			weekly TEXT NOT NULL DEFAULT '0',
			lifetime TEXT NOT NULL DEFAULT '0',
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS frame_interactions (
			id BIGSERIAL PRIMARY KEY,
			fid VARCHAR(64) NOT NULL,
			button_index INT NOT NULL DEFAULT 0,
			screen VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reputation_snapshots_score ON reputation_snapshots(score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_frame_interactions_fid ON frame_interactions(fid, created_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.log.Info().Msg("Database migrations completed")
	return nil
}

// UpsertReputation writes a reputation snapshot in one batch
func (r *Repository) UpsertReputation(ctx context.Context, entries []domain.ReputationEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO reputation_snapshots (fid, score, rank, display_name, username, avatar_url, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (fid)
		DO UPDATE SET
			score = $2,
			rank = $3,
			display_name = COALESCE(NULLIF($4, ''), reputation_snapshots.display_name),
			username = COALESCE(NULLIF($5, ''), reputation_snapshots.username),
			avatar_url = COALESCE(NULLIF($6, ''), reputation_snapshots.avatar_url),
			updated_at = $7
	`
	now := time.Now()

	for _, e := range entries {
		batch.Queue(query, e.FID, e.Score, e.Rank, e.DisplayName, e.Username, e.AvatarURL, now)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch upserting reputation: %w", err)
		}
	}
	return nil
}

// AllReputation returns the stored snapshot ordered by score
func (r *Repository) AllReputation(ctx context.Context) ([]domain.ReputationEntry, error) {
	query := `
		SELECT fid, score, rank, display_name, username, avatar_url
		FROM reputation_snapshots
		ORDER BY score DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("getting reputation snapshot: %w", err)
	}
	defer rows.Close()

	var entries []domain.ReputationEntry
	for rows.Next() {
		var e domain.ReputationEntry
		if err := rows.Scan(&e.FID, &e.Score, &e.Rank, &e.DisplayName, &e.Username, &e.AvatarURL); err != nil {
			return nil, fmt.Errorf("scanning reputation: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading reputation snapshot: %w", err)
	}
	return entries, nil
}

// SaveEarnings stores the last known earnings of fid
func (r *Repository) SaveEarnings(ctx context.Context, fid string, earnings domain.RawEarnings) error {
	earnings = earnings.WithDefaults()
	query := `
		INSERT INTO earnings_snapshots (fid, today, weekly, lifetime, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (fid)
		DO UPDATE SET today = $2, weekly = $3, lifetime = $4, updated_at = $5
	`
	_, err := r.pool.Exec(ctx, query, fid, earnings.Daily, earnings.Weekly, earnings.Lifetime, time.Now())
	if err != nil {
		return fmt.Errorf("saving earnings: %w", err)
	}
	return nil
}

// GetEarnings returns the last stored earnings of fid
func (r *Repository) GetEarnings(ctx context.Context, fid string) (*domain.EarningsSnapshot, error) {
	query := `
		SELECT fid, today, weekly, lifetime, updated_at
		FROM earnings_snapshots
		WHERE fid = $1
	`
	var s domain.EarningsSnapshot
	err := r.pool.QueryRow(ctx, query, fid).Scan(
		&s.FID,
		&s.Earnings.Daily,
		&s.Earnings.Weekly,
		&s.Earnings.Lifetime,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting earnings: %w", err)
	}
	return &s, nil
}

// RecordInteraction appends a frame button press
func (r *Repository) RecordInteraction(ctx context.Context, in domain.Interaction) error {
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO frame_interactions (fid, button_index, screen, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, query, in.FID, in.ButtonIndex, in.Screen, createdAt)
	if err != nil {
		return fmt.Errorf("recording interaction: %w", err)
	}
	return nil
}

// CountInteractions returns the number of recorded interactions of fid
func (r *Repository) CountInteractions(ctx context.Context, fid string) (int64, error) {
	query := `SELECT COUNT(*) FROM frame_interactions WHERE fid = $1`
	var count int64
	if err := r.pool.QueryRow(ctx, query, fid).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting interactions: %w", err)
	}
	return count, nil
}
