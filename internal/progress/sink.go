// Package progress records workflow findings in Postgres as they are
// produced, so clients polling the chat record see claims and language
// findings before the final answer lands.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/verita-ai/verita/internal/chat"
	"github.com/verita-ai/verita/internal/log"
)

// DB begins transactions. *pgxpool.Pool satisfies it.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config contains all required parameters for a Sink.
type Config struct {
	Pool   DB
	Logger log.Logger
}

func (cfg Config) validate() error {
	if cfg.Pool == nil {
		return errors.New("connection pool is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Sink writes progress updates transactionally. Each update upserts the
// chat row and appends whatever findings the update carries; partial
// updates never blank out fields written by earlier ones.
type Sink struct {
	pool   DB
	logger log.Logger
}

// New creates a Sink with the given configuration.
func New(cfg Config) (*Sink, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Sink{pool: cfg.Pool, logger: cfg.Logger}, nil
}

const upsertChat = `
INSERT INTO chats (id, user_id, style_mode, output_text, final)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    style_mode  = EXCLUDED.style_mode,
    output_text = CASE WHEN EXCLUDED.final THEN EXCLUDED.output_text ELSE chats.output_text END,
    final       = chats.final OR EXCLUDED.final,
    updated_at  = now()`

const insertMessage = `
INSERT INTO messages (id, chat_id, content, kind, status)
VALUES ($1, $2, $3, 'answer', $4)`

const insertClaim = `
INSERT INTO processed_claims (id, chat_id, claim, claim_analysis, alternatives, citations)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`

const insertInstance = `
INSERT INTO imprecise_language_instances (id, chat_id, details)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING`

// Update persists one progress update. An update carrying output text
// also records an answer message whose status follows Final.
func (s *Sink) Update(ctx context.Context, u chat.ProgressUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning progress transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, upsertChat,
		u.SessionID, u.UserID, u.StyleMode, u.OutputText, u.Final); err != nil {
		return fmt.Errorf("upserting chat %s: %w", u.SessionID, err)
	}

	if u.OutputText != "" {
		if _, err := tx.Exec(ctx, insertMessage,
			uuid.NewString(), u.SessionID, u.OutputText, messageStatus(u.Final)); err != nil {
			return fmt.Errorf("inserting answer message for chat %s: %w", u.SessionID, err)
		}
	}

	if err := s.insertClaims(ctx, tx, u.SessionID, u.Claims); err != nil {
		return err
	}
	if err := s.insertInstances(ctx, tx, u.SessionID, u.Instances); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing progress transaction: %w", err)
	}

	s.logger.Debug("recorded progress update",
		"chat_id", u.SessionID,
		"claims", len(u.Claims),
		"instances", len(u.Instances),
		"final", u.Final)
	return nil
}

func messageStatus(final bool) string {
	if final {
		return "completed"
	}
	return "processing"
}

func (s *Sink) insertClaims(ctx context.Context, tx pgx.Tx, chatID string, cs []chat.VerifiedClaim) error {
	for _, c := range cs {
		alternatives, err := json.Marshal(c.Alternatives)
		if err != nil {
			return fmt.Errorf("encoding alternatives for claim %s: %w", c.ID, err)
		}
		citations, err := json.Marshal(c.Citations)
		if err != nil {
			return fmt.Errorf("encoding citations for claim %s: %w", c.ID, err)
		}
		if _, err := tx.Exec(ctx, insertClaim,
			c.ID, chatID, c.Claim, c.ClaimAnalysis, alternatives, citations); err != nil {
			return fmt.Errorf("inserting claim %s: %w", c.ID, err)
		}
	}
	return nil
}

func (s *Sink) insertInstances(ctx context.Context, tx pgx.Tx, chatID string, is []chat.ImpreciseInstance) error {
	for _, inst := range is {
		details, err := json.Marshal(inst.Details)
		if err != nil {
			return fmt.Errorf("encoding details for instance %s: %w", inst.ID, err)
		}
		if _, err := tx.Exec(ctx, insertInstance, inst.ID, chatID, details); err != nil {
			return fmt.Errorf("inserting instance %s: %w", inst.ID, err)
		}
	}
	return nil
}
