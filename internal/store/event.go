package store

import (
	"database/sql"
	"fmt"
	"time"
)

// EventStore records gateway webhook event ids that have already been
// applied. The gateway delivers events at least once; recording the id lets
// the webhook handler drop true duplicates instead of re-running effects.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// MarkProcessed records the event id and reports whether this delivery is
// the first one seen. A duplicate delivery returns false with no error.
func (s *EventStore) MarkProcessed(eventID string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO processed_events (event_id) VALUES (?)`,
		eventID,
	)
	if err != nil {
		return false, fmt.Errorf("mark event processed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete forgets an event id, releasing it for redelivery. Used when
// applying the event failed partway and the gateway's retry should get
// another attempt.
func (s *EventStore) Delete(eventID string) error {
	_, err := s.db.Exec(`DELETE FROM processed_events WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// DeleteOlderThan prunes event ids past the dedup window. The gateway only
// redelivers within a bounded horizon, so old ids are dead weight. The
// cutoff is computed DB-side so it compares in the same format as the
// CURRENT_TIMESTAMP default.
func (s *EventStore) DeleteOlderThan(age time.Duration) (int64, error) {
	modifier := fmt.Sprintf("%+d seconds", -int64(age.Seconds()))
	result, err := s.db.Exec(`DELETE FROM processed_events WHERE processed_at <= datetime('now', ?)`, modifier)
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
