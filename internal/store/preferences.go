package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GetPreference returns the stored value for key and whether it was present.
func (db *DB) GetPreference(key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetPreferences writes all key/value pairs in a single transaction.
// An empty value deletes the key.
func (db *DB) SetPreferences(values map[string]string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for key, value := range values {
		if value == "" {
			if _, err := tx.Exec(`DELETE FROM preferences WHERE key = ?`, key); err != nil {
				return fmt.Errorf("delete preference %q: %w", key, err)
			}
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO preferences (key, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, now); err != nil {
			return fmt.Errorf("set preference %q: %w", key, err)
		}
	}
	return tx.Commit()
}

// Preferences returns every stored preference.
func (db *DB) Preferences() (map[string]string, error) {
	rows, err := db.Query(`SELECT key, value FROM preferences`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
