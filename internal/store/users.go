package store

import (
	"database/sql"
	"errors"
	"time"
)

// UserRow is the persisted portion of a registered user. Runtime-only fields
// (current status, last marked event) live in the registry and are rebuilt
// from scratch after a restart.
type UserRow struct {
	CalendarID string
	ChatToken  string
	ChatUserID string
	Paused     bool
}

// InsertUser persists a newly registered user.
func (db *DB) InsertUser(u *UserRow) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO users (calendar_id, chat_token, chat_user_id, paused, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.CalendarID, u.ChatToken, u.ChatUserID, u.Paused, now, now)
	return err
}

// UpdateUser rewrites the persisted fields of an existing user.
func (db *DB) UpdateUser(u *UserRow) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE users SET chat_token = ?, chat_user_id = ?, paused = ?, updated_at = ?
		WHERE calendar_id = ?`,
		u.ChatToken, u.ChatUserID, u.Paused, now, u.CalendarID)
	return err
}

// DeleteUser removes a user. Returns false if no row matched.
func (db *DB) DeleteUser(calendarID string) (bool, error) {
	res, err := db.Exec(`DELETE FROM users WHERE calendar_id = ?`, calendarID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetUser returns a single user, or nil if not present.
func (db *DB) GetUser(calendarID string) (*UserRow, error) {
	row := db.QueryRow(`
		SELECT calendar_id, chat_token, chat_user_id, paused
		FROM users WHERE calendar_id = ?`, calendarID)
	var u UserRow
	if err := row.Scan(&u.CalendarID, &u.ChatToken, &u.ChatUserID, &u.Paused); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// ListUsers returns all persisted users ordered by calendar identity.
func (db *DB) ListUsers() ([]UserRow, error) {
	rows, err := db.Query(`
		SELECT calendar_id, chat_token, chat_user_id, paused
		FROM users ORDER BY calendar_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []UserRow
	for rows.Next() {
		var u UserRow
		if err := rows.Scan(&u.CalendarID, &u.ChatToken, &u.ChatUserID, &u.Paused); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
