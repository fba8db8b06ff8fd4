package store

import (
	"database/sql"
	"fmt"

	"github.com/matheus3301/chatline/internal/bus"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite database connection for the app-owned chatline.db.
type DB struct {
	*sql.DB
	bus *bus.Bus
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db}, nil
}

// WithBus attaches a change notifier. Every committed write to the messages
// table publishes a bus.StoreMessagesChanged event carrying a Change.
func (db *DB) WithBus(b *bus.Bus) *DB {
	db.bus = b
	return db
}

func (db *DB) notify(op string, rows int64) {
	if db.bus == nil || rows == 0 {
		return
	}
	db.bus.Emit(bus.StoreMessagesChanged, Change{Op: op, Rows: rows})
}
