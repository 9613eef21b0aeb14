package store

import (
	"database/sql"
	"fmt"
	"log"
	"sort"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS Account (
	id            INTEGER PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	server_hash   BLOB NOT NULL,
	client_prefix TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS Message (
	id           INTEGER PRIMARY KEY,
	sender_id    INTEGER NOT NULL,
	recipient_id INTEGER NOT NULL,
	body         TEXT NOT NULL,
	delivered    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_message_recipient ON Message(recipient_id);
`

// DB wraps the SQLite snapshot target. The store is the source of truth
// at runtime; SQLite only provides durability across restarts.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the snapshot database at path and initializes
// the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Snapshots come from a single goroutine.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Load reads all persisted accounts and messages. Messages come back in
// id order, which is also arrival order.
func (db *DB) Load() ([]Account, []Message, error) {
	rows, err := db.conn.Query(`SELECT id, username, server_hash, client_prefix FROM Account`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Username, &a.ServerHash, &a.ClientPrefix); err != nil {
			return nil, nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	msgRows, err := db.conn.Query(`SELECT id, sender_id, recipient_id, body, delivered FROM Message ORDER BY id ASC`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer msgRows.Close()

	var messages []Message
	for msgRows.Next() {
		var m Message
		var delivered int
		if err := msgRows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &delivered); err != nil {
			return nil, nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Delivered = delivered != 0
		messages = append(messages, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, nil, err
	}
	return accounts, messages, nil
}

// Snapshot replaces the persisted state with the given copy in one
// transaction.
func (db *DB) Snapshot(accounts []Account, messages []Message) error {
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	sort.Slice(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM Account`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM Message`); err != nil {
		return err
	}

	acctStmt, err := tx.Prepare(`INSERT INTO Account (id, username, server_hash, client_prefix) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer acctStmt.Close()
	for _, a := range accounts {
		if _, err := acctStmt.Exec(a.ID, a.Username, a.ServerHash, a.ClientPrefix); err != nil {
			return fmt.Errorf("failed to snapshot account %d: %w", a.ID, err)
		}
	}

	msgStmt, err := tx.Prepare(`INSERT INTO Message (id, sender_id, recipient_id, body, delivered) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer msgStmt.Close()
	for _, m := range messages {
		delivered := 0
		if m.Delivered {
			delivered = 1
		}
		if _, err := msgStmt.Exec(m.ID, m.SenderID, m.RecipientID, m.Body, delivered); err != nil {
			return fmt.Errorf("failed to snapshot message %d: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

func logSnapshotError(err error) {
	log.Printf("Store snapshot failed: %v", err)
}
