package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const entryColumns = `id, provisional_id, conversation_id, body, status, message_id,
	channel_message_id, error_message, retry_of, created_at, updated_at`

// QueueOutbox records a new pending send.
func (db *DB) QueueOutbox(provisionalID, conversationID, body, retryOf string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (provisional_id, conversation_id, body, status, retry_of, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		provisionalID, conversationID, body, StatusPending, retryOf, now, now)
	if err != nil {
		return fmt.Errorf("queue outbox %s: %w", provisionalID, err)
	}
	return nil
}

// MarkSent records the identities the backend assigned to a send.
func (db *DB) MarkSent(provisionalID, messageID, channelMessageID string) error {
	return db.update(provisionalID, `
		UPDATE outbox SET status = ?, message_id = ?, channel_message_id = ?, updated_at = ?
		WHERE provisional_id = ?`,
		StatusSent, messageID, channelMessageID, time.Now().UnixMilli(), provisionalID)
}

// MarkFailed records why a send failed.
func (db *DB) MarkFailed(provisionalID, errMsg string) error {
	return db.update(provisionalID, `
		UPDATE outbox SET status = ?, error_message = ?, updated_at = ?
		WHERE provisional_id = ?`,
		StatusFailed, errMsg, time.Now().UnixMilli(), provisionalID)
}

func (db *DB) update(provisionalID, query string, args ...any) error {
	res, err := db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update outbox %s: %w", provisionalID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update outbox %s: no such entry", provisionalID)
	}
	return nil
}

// GetOutbox returns one entry, or nil if it does not exist.
func (db *DB) GetOutbox(provisionalID string) (*Entry, error) {
	row := db.QueryRow(`SELECT `+entryColumns+` FROM outbox WHERE provisional_id = ?`, provisionalID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get outbox %s: %w", provisionalID, err)
	}
	return e, nil
}

// ListFailed returns failed sends that were never retried, newest first.
func (db *DB) ListFailed(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT `+entryColumns+` FROM outbox o
		WHERE status = ?
		  AND NOT EXISTS (SELECT 1 FROM outbox r WHERE r.retry_of = o.provisional_id)
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, StatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Counts returns the number of entries per status.
func (db *DB) Counts() (map[string]int, error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count outbox: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var e Entry
	var created, updated int64
	if err := s.Scan(&e.ID, &e.ProvisionalID, &e.ConversationID, &e.Body, &e.Status, &e.MessageID,
		&e.ChannelMessageID, &e.ErrorMessage, &e.RetryOf, &created, &updated); err != nil {
		return nil, err
	}
	e.CreatedAt = time.UnixMilli(created)
	e.UpdatedAt = time.UnixMilli(updated)
	return &e, nil
}
