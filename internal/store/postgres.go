package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acme/outdial/internal/call"
	"github.com/acme/outdial/internal/campaign"
)

// PostgresStore persists call records and campaign progress in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			id TEXT PRIMARY KEY,
			provider_call_id TEXT,
			conversation_id TEXT,
			campaign_id TEXT,
			contact_id TEXT,
			from_number TEXT NOT NULL,
			to_number TEXT NOT NULL,
			status TEXT NOT NULL,
			termination_reason TEXT,
			answered_by TEXT,
			recording_ref TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			answered_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			duration_ms BIGINT NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_calls_campaign_started ON calls (campaign_id, started_at);`,
		`CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			error_reason TEXT,
			concurrency_limit INT NOT NULL,
			pacing_interval_ms BIGINT NOT NULL,
			max_attempts INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			placed INT NOT NULL DEFAULT 0,
			completed INT NOT NULL DEFAULT 0,
			answered INT NOT NULL DEFAULT 0,
			failed INT NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS contacts (
			campaign_id TEXT NOT NULL,
			id TEXT NOT NULL,
			phone TEXT NOT NULL,
			name TEXT,
			attempts INT NOT NULL DEFAULT 0,
			last_outcome TEXT,
			exhausted BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (campaign_id, id)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveCall(ctx context.Context, c *call.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calls (id, provider_call_id, conversation_id, campaign_id, contact_id,
			from_number, to_number, status, termination_reason, answered_by, recording_ref,
			started_at, answered_at, ended_at, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (id) DO UPDATE SET
			status=EXCLUDED.status,
			termination_reason=EXCLUDED.termination_reason,
			answered_by=EXCLUDED.answered_by,
			recording_ref=EXCLUDED.recording_ref,
			answered_at=EXCLUDED.answered_at,
			ended_at=EXCLUDED.ended_at,
			duration_ms=EXCLUDED.duration_ms`,
		c.ID, c.ProviderCallID, c.ConversationID, c.CampaignID, c.ContactID,
		c.From, c.To, string(c.Status), string(c.Reason), c.AnsweredBy, c.RecordingRef,
		c.StartedAt, c.AnsweredAt, c.EndedAt, c.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("save call: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentCalls(ctx context.Context, campaignID string, limit int) ([]call.Session, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, provider_call_id, conversation_id, campaign_id, contact_id,
			from_number, to_number, status, termination_reason, answered_by, recording_ref,
			started_at, answered_at, ended_at, duration_ms
		 FROM calls WHERE campaign_id=$1 ORDER BY started_at DESC LIMIT $2`,
		campaignID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent calls: %w", err)
	}
	defer rows.Close()

	out := make([]call.Session, 0, limit)
	for rows.Next() {
		var (
			c          call.Session
			status     string
			reason     string
			durationMS int64
		)
		if err := rows.Scan(&c.ID, &c.ProviderCallID, &c.ConversationID, &c.CampaignID, &c.ContactID,
			&c.From, &c.To, &status, &reason, &c.AnsweredBy, &c.RecordingRef,
			&c.StartedAt, &c.AnsweredAt, &c.EndedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scan call row: %w", err)
		}
		c.Status = call.Status(status)
		c.Reason = call.Reason(reason)
		c.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveCampaign(ctx context.Context, c *campaign.Campaign) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO campaigns (id, name, status, error_reason, concurrency_limit,
			pacing_interval_ms, max_attempts, created_at, placed, completed, answered, failed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
			status=EXCLUDED.status,
			error_reason=EXCLUDED.error_reason,
			placed=EXCLUDED.placed,
			completed=EXCLUDED.completed,
			answered=EXCLUDED.answered,
			failed=EXCLUDED.failed`,
		c.ID, c.Name, string(c.Status), c.ErrorReason, c.ConcurrencyLimit,
		c.PacingInterval.Milliseconds(), c.MaxAttempts, c.CreatedAt,
		c.Stats.Placed, c.Stats.Completed, c.Stats.Answered, c.Stats.Failed,
	)
	if err != nil {
		return fmt.Errorf("save campaign: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveContact(ctx context.Context, campaignID string, ct *campaign.Contact) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contacts (campaign_id, id, phone, name, attempts, last_outcome, exhausted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (campaign_id, id) DO UPDATE SET
			attempts=EXCLUDED.attempts,
			last_outcome=EXCLUDED.last_outcome,
			exhausted=EXCLUDED.exhausted`,
		campaignID, ct.ID, ct.Phone, ct.Name, ct.Attempts, ct.LastOutcome, ct.Exhausted,
	)
	if err != nil {
		return fmt.Errorf("save contact: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadCampaigns(ctx context.Context) ([]*campaign.Campaign, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, status, error_reason, concurrency_limit, pacing_interval_ms,
			max_attempts, created_at, placed, completed, answered, failed
		 FROM campaigns WHERE status NOT IN ('completed', 'error') ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	var out []*campaign.Campaign
	for rows.Next() {
		var (
			c        campaign.Campaign
			status   string
			pacingMS int64
		)
		if err := rows.Scan(&c.ID, &c.Name, &status, &c.ErrorReason, &c.ConcurrencyLimit,
			&pacingMS, &c.MaxAttempts, &c.CreatedAt,
			&c.Stats.Placed, &c.Stats.Completed, &c.Stats.Answered, &c.Stats.Failed); err != nil {
			return nil, fmt.Errorf("scan campaign row: %w", err)
		}
		c.Status = campaign.Status(status)
		c.PacingInterval = time.Duration(pacingMS) * time.Millisecond
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaign rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) LoadContacts(ctx context.Context, campaignID string) ([]*campaign.Contact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, phone, name, attempts, last_outcome, exhausted
		 FROM contacts WHERE campaign_id=$1 ORDER BY id`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var out []*campaign.Contact
	for rows.Next() {
		var ct campaign.Contact
		if err := rows.Scan(&ct.ID, &ct.Phone, &ct.Name, &ct.Attempts, &ct.LastOutcome, &ct.Exhausted); err != nil {
			return nil, fmt.Errorf("scan contact row: %w", err)
		}
		out = append(out, &ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contact rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
