package store

import (
	"database/sql"
	"fmt"

	"github.com/Deathvks/AutoGest-sub000/internal/model"
)

type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func scanNotification(scanner interface{ Scan(...any) error }) (*model.Notification, error) {
	var n model.Notification
	var link sql.NullString
	var read int
	err := scanner.Scan(&n.ID, &n.AccountID, &n.Type, &n.Message, &link, &read, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	if link.Valid {
		n.Link = &link.String
	}
	n.Read = read != 0
	return &n, nil
}

const notificationCols = `id, account_id, type, message, link, read, created_at`

func (s *NotificationStore) Create(accountID int64, ntype, message string, link *string) (*model.Notification, error) {
	var l sql.NullString
	if link != nil {
		l = sql.NullString{String: *link, Valid: true}
	}
	result, err := s.db.Exec(
		`INSERT INTO notifications (account_id, type, message, link) VALUES (?, ?, ?, ?)`,
		accountID, ntype, message, l,
	)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+notificationCols+` FROM notifications WHERE id = ?`, id)
	return scanNotification(row)
}

func (s *NotificationStore) ListByAccountID(accountID int64) ([]*model.Notification, error) {
	rows, err := s.db.Query(
		`SELECT `+notificationCols+` FROM notifications WHERE account_id = ? ORDER BY created_at DESC, id DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func (s *NotificationStore) MarkRead(id int64) error {
	_, err := s.db.Exec(`UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}
