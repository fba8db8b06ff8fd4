package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const messageColumns = `local_id, server_id, client_id, author, body, output, timestamp, is_command, reply_to, status, created_at`

const upsertMessageSQL = `
	INSERT INTO messages (server_id, client_id, author, body, output, timestamp, is_command, reply_to, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(server_id) DO UPDATE SET
		author = excluded.author,
		body = excluded.body,
		output = excluded.output,
		timestamp = CASE WHEN ? > 0 THEN excluded.timestamp ELSE messages.timestamp END,
		is_command = excluded.is_command,
		reply_to = excluded.reply_to,
		status = excluded.status
	RETURNING local_id, timestamp`

type rowScanner interface {
	Scan(dest ...any) error
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func scanMessage(r rowScanner) (*Message, error) {
	var (
		m        Message
		serverID sql.NullInt64
		clientID sql.NullString
	)
	if err := r.Scan(&m.LocalID, &serverID, &clientID, &m.Author, &m.Body, &m.Output,
		&m.Timestamp, &m.IsCommand, &m.ReplyTo, &m.Status, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.ServerID = serverID.Int64
	m.ClientID = clientID.String
	return &m, nil
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// normalize fills defaults for a row about to be written. The timestamp
// default only takes effect when the row is created; updates keep the stored
// value unless a timestamp was supplied.
func normalize(m *Message) {
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().Unix()
	}
	if m.Status == "" {
		m.Status = Delivered
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}
}

// upsert writes m and reads back its identity and effective timestamp.
func upsert(q queryRower, m *Message) error {
	supplied := m.Timestamp
	normalize(m)
	return q.QueryRow(upsertMessageSQL,
		nullInt(m.ServerID), nullString(m.ClientID), m.Author, m.Body, m.Output,
		m.Timestamp, m.IsCommand, m.ReplyTo, m.Status, m.CreatedAt,
		supplied).Scan(&m.LocalID, &m.Timestamp)
}

// UpsertMessage inserts or replaces a message (idempotent on server_id).
// Rows without a server id are always inserted. m.LocalID is set to the
// identity of the written row.
func (db *DB) UpsertMessage(m *Message) error {
	if err := upsert(db, m); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	db.notify("upsert", 1)
	return nil
}

// UpsertMessages applies UpsertMessage to every message in a single
// transaction. Either all rows are written or none are.
func (db *DB) UpsertMessages(msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range msgs {
		if err := upsert(tx, m); err != nil {
			return fmt.Errorf("upsert message %d: %w", m.ServerID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	db.notify("upsert_batch", int64(len(msgs)))
	return nil
}

// MergeRemote merges a server batch (oldest first) in one transaction.
// A message carrying a client id that matches an existing row confirms that
// row in place; everything else is upserted on server_id. Entries with
// neither a positive server id nor a matching client id are skipped, since
// nothing would make a second merge of them a no-op. Remote messages are
// never commands.
func (db *DB) MergeRemote(msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range msgs {
		m.IsCommand = false
		m.Status = Delivered
		supplied := m.Timestamp
		normalize(m)
		if m.ClientID != "" {
			var localID int64
			err := tx.QueryRow(`SELECT local_id FROM messages WHERE client_id = ?`, m.ClientID).Scan(&localID)
			if err == nil {
				if _, err := dropServerCopy(tx, m.ServerID, localID); err != nil {
					return err
				}
				if _, err := tx.Exec(`
					UPDATE messages SET
						server_id = COALESCE(?, server_id), author = ?, body = ?,
						timestamp = CASE WHEN ? > 0 THEN ? ELSE timestamp END,
						reply_to = ?, status = ?
					WHERE local_id = ?`,
					nullInt(m.ServerID), m.Author, m.Body, supplied, supplied, m.ReplyTo, Delivered, localID); err != nil {
					return fmt.Errorf("confirm %q: %w", m.ClientID, err)
				}
				m.LocalID = localID
				continue
			}
			if err != sql.ErrNoRows {
				return fmt.Errorf("lookup client id %q: %w", m.ClientID, err)
			}
		}
		if m.ServerID <= 0 {
			continue
		}
		if err := upsert(tx, m); err != nil {
			return fmt.Errorf("merge message %d: %w", m.ServerID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	db.notify("merge", int64(len(msgs)))
	return nil
}

// InsertMessage appends a new row without conflict handling. Used for
// optimistic outbound rows and local command entries.
func (db *DB) InsertMessage(m *Message) error {
	normalize(m)
	err := db.QueryRow(`
		INSERT INTO messages (server_id, client_id, author, body, output, timestamp, is_command, reply_to, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING local_id`,
		nullInt(m.ServerID), nullString(m.ClientID), m.Author, m.Body, m.Output,
		m.Timestamp, m.IsCommand, m.ReplyTo, m.Status, m.CreatedAt).Scan(&m.LocalID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	db.notify("insert", 1)
	return nil
}

// MarkDelivered confirms the row identified by localID. If the server copy of
// the same message was already merged under serverID it is removed so the
// history keeps exactly one row for it. A zero serverID or ts leaves the
// respective column untouched.
func (db *DB) MarkDelivered(localID, serverID, ts int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	removed, err := dropServerCopy(tx, serverID, localID)
	if err != nil {
		return err
	}

	res, err := tx.Exec(`
		UPDATE messages SET
			server_id = COALESCE(?, server_id),
			timestamp = CASE WHEN ? > 0 THEN ? ELSE timestamp END,
			status = ?
		WHERE local_id = ?`,
		nullInt(serverID), ts, ts, Delivered, localID)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delivered: %w", err)
	}
	db.notify("delivered", 1+removed)
	return nil
}

// dropServerCopy deletes a row holding serverID that is not localID.
func dropServerCopy(tx *sql.Tx, serverID, localID int64) (int64, error) {
	if serverID == 0 {
		return 0, nil
	}
	res, err := tx.Exec(`DELETE FROM messages WHERE server_id = ? AND local_id != ?`, serverID, localID)
	if err != nil {
		return 0, fmt.Errorf("drop server copy: %w", err)
	}
	return res.RowsAffected()
}

// MarkFailed moves a PENDING row to FAILED.
func (db *DB) MarkFailed(localID int64) error {
	return db.transition(localID, Pending, Failed)
}

// MarkPending moves a FAILED row back to PENDING for a resend.
func (db *DB) MarkPending(localID int64) error {
	return db.transition(localID, Failed, Pending)
}

func (db *DB) transition(localID int64, from, to Status) error {
	res, err := db.Exec(`UPDATE messages SET status = ? WHERE local_id = ? AND status = ?`, to, localID, from)
	if err != nil {
		return fmt.Errorf("mark %s: %w", strings.ToLower(string(to)), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	db.notify(strings.ToLower(string(to)), 1)
	return nil
}

// DeletePending removes every row still waiting for server confirmation.
func (db *DB) DeletePending() (int64, error) {
	res, err := db.Exec(`DELETE FROM messages WHERE status = ?`, Pending)
	if err != nil {
		return 0, fmt.Errorf("delete pending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	db.notify("delete_pending", n)
	return n, nil
}

// FindByServerID returns the message with the given server id, or nil if absent.
func (db *DB) FindByServerID(serverID int64) (*Message, error) {
	if serverID == 0 {
		return nil, nil
	}
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE server_id = ?`, serverID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessage returns the message with the given local id, or nil if absent.
func (db *DB) GetMessage(localID int64) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE local_id = ?`, localID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns the full history in insertion order.
func (db *DB) ListMessages() ([]Message, error) {
	return db.queryMessages(`SELECT ` + messageColumns + ` FROM messages ORDER BY local_id ASC`)
}

// RecentMessages returns the newest limit messages, still in insertion order.
func (db *DB) RecentMessages(limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	return db.queryMessages(`
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages ORDER BY local_id DESC LIMIT ?
		) ORDER BY local_id ASC`, limit)
}

// SearchMessages returns messages whose body or output contains query
// (case-insensitive for ASCII), newest first.
func (db *DB) SearchMessages(query string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(query) + "%"
	return db.queryMessages(`
		SELECT `+messageColumns+` FROM messages
		WHERE body LIKE ? ESCAPE '\' OR output LIKE ? ESCAPE '\'
		ORDER BY local_id DESC
		LIMIT ?`, pattern, pattern, limit)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (db *DB) queryMessages(q string, args ...any) ([]Message, error) {
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// PendingCount returns the number of messages awaiting confirmation.
func (db *DB) PendingCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE status = ?`, Pending).Scan(&count)
	return count, err
}
