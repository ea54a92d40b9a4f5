package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"tpv-fleet/internal/eventing"
)

// OutboxStore persists envelopes in the event_outbox table so a publish
// survives the process that raised it.
type OutboxStore struct {
	db *sql.DB
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

// Insert writes an envelope as a pending outbox row.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("outbox store: nil db")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	id := eventing.NewEventID()
	const query = `
		INSERT INTO event_outbox (id, event_id, event_type, payload, status, attempts)
		VALUES ($1, $2, $3, $4, 'pending', 0)
		ON CONFLICT (id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, id, env.EventID, env.EventType, payload); err != nil {
		return "", err
	}
	return id, nil
}

// ListPending returns the oldest pending outbox rows.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, payload
		FROM event_outbox
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []eventing.OutboxRecord
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var env eventing.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, err
		}
		result = append(result, eventing.OutboxRecord{ID: id, Envelope: env})
	}
	return result, rows.Err()
}

// MarkSent resolves an outbox row as delivered.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	const query = `UPDATE event_outbox SET status = 'sent', sent_at = $1 WHERE id = $2`
	_, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	return err
}

// MarkFailed resolves an outbox row as failed and counts the attempt.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	const query = `UPDATE event_outbox SET status = 'failed', attempts = attempts + 1 WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}
