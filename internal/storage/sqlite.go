package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caesarsage/chatcmd/internal/credentials"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT    NOT NULL UNIQUE,
	password_hash TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	text       TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	user_id    INTEGER NOT NULL REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
`

const dropSchema = `
DROP TABLE IF EXISTS messages;
DROP TABLE IF EXISTS users;
`

// SQLiteStore implements Store on a SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and ensures
// the schema exists.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path, now: time.Now}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Recreate drops every table and creates the schema again.
func (s *SQLiteStore) Recreate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, dropSchema); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUserByName(ctx context.Context, name string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, password_hash FROM users WHERE name = ?`, name,
	).Scan(&u.ID, &u.Name, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) AddUser(ctx context.Context, name, password string) error {
	hash, err := credentials.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (name, password_hash) VALUES (?, ?)`, name, hash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoginUser(ctx context.Context, name, password string) (bool, error) {
	u, err := s.GetUserByName(ctx, name)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return credentials.CheckPassword(u.PasswordHash, password), nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, username, text string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (text, created_at, user_id)
		 SELECT ?, ?, id FROM users WHERE name = ?`,
		text, s.now().UnixNano(), username)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *SQLiteStore) GetMessages(ctx context.Context, amount, skip int, before time.Time) ([]Message, error) {
	if amount <= 0 {
		return []Message{}, nil
	}
	if skip < 0 {
		skip = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, u.name, m.text, m.created_at
		 FROM messages m JOIN users u ON u.id = m.user_id
		 WHERE m.created_at <= ?
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT ? OFFSET ?`,
		before.UnixNano(), amount, skip)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, amount)
	for rows.Next() {
		var (
			m       Message
			created int64
		)
		if err := rows.Scan(&m.ID, &m.Author, &m.Text, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.Unix(0, created)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}
