package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"tpv-fleet/internal/eventing"
)

// DLQStore keeps undeliverable envelopes for operator inspection. One row
// per event id; repeats bump the attempt counter.
type DLQStore struct {
	db *sql.DB
}

// NewDLQStore constructs a DLQ store.
func NewDLQStore(db *sql.DB) *DLQStore {
	return &DLQStore{db: db}
}

// RecordFailure upserts a dead letter row for the envelope.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if s == nil || s.db == nil {
		return errors.New("dlq store: nil db")
	}
	if env.EventID == "" {
		return errors.New("dlq store: empty event id")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	const query = `
		INSERT INTO dead_letter_events (event_id, event_type, payload, error, first_seen_at, last_seen_at, attempts)
		VALUES ($1, $2, $3, $4, $5, $5, 1)
		ON CONFLICT (event_id) DO UPDATE SET
			event_type = EXCLUDED.event_type,
			payload = EXCLUDED.payload,
			error = EXCLUDED.error,
			last_seen_at = EXCLUDED.last_seen_at,
			attempts = dead_letter_events.attempts + 1`
	_, err = s.db.ExecContext(ctx, query, env.EventID, env.EventType, payload, message, time.Now().UTC())
	return err
}
