package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/stellarlinkco/dayplan/internal/agenda"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps registrations and plans in one SQLite database. It
// implements both Registry and PlanCache.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// pragmas are applied by the driver to every pooled connection.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
}

func dsn(dbPath string) string {
	q := make(url.Values)
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return dbPath + "?" + q.Encode()
}

func (s *SQLiteStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			email TEXT PRIMARY KEY,
			chat_id INTEGER NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_chat ON users(chat_id)`,
		`CREATE TABLE IF NOT EXISTS plans (
			email TEXT NOT NULL,
			day TEXT NOT NULL,
			body TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (email, day)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plans_updated ON plans(updated_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Register(email string, chatID int64) (string, error) {
	email, ok := NormalizeEmail(email)
	if !ok {
		return "", ErrInvalidEmail
	}
	_, err := s.db.Exec(`
		INSERT INTO users (email, chat_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET chat_id = excluded.chat_id, updated_at = excluded.updated_at
	`, email, chatID, s.now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("register %s: %w", email, err)
	}
	return email, nil
}

func (s *SQLiteStore) ChatID(email string) (int64, bool, error) {
	email, _ = NormalizeEmail(email)
	var id int64
	err := s.db.QueryRow(`SELECT chat_id FROM users WHERE email = ?`, email).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup chat for %s: %w", email, err)
	}
	return id, true, nil
}

func (s *SQLiteStore) Email(chatID int64) (string, bool, error) {
	var email string
	err := s.db.QueryRow(`
		SELECT email FROM users WHERE chat_id = ?
		ORDER BY updated_at DESC LIMIT 1
	`, chatID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup email for chat %d: %w", chatID, err)
	}
	return email, true, nil
}

// Touch is a no-op: an email without plan rows already reads as empty.
func (s *SQLiteStore) Touch(email string) error {
	return nil
}

func (s *SQLiteStore) Put(email string, day agenda.Day, text string) error {
	_, err := s.db.Exec(`
		INSERT INTO plans (email, day, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(email, day) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, email, day.String(), text, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("put %s plan for %s: %w", day, email, err)
	}
	return nil
}

func (s *SQLiteStore) Get(email string, day agenda.Day) (string, bool, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM plans WHERE email = ? AND day = ?`, email, day.String()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s plan for %s: %w", day, email, err)
	}
	return body, true, nil
}

func (s *SQLiteStore) Last(email string) (string, bool, error) {
	return lastOf(func(day agenda.Day) (string, bool, error) {
		return s.Get(email, day)
	})
}

func (s *SQLiteStore) Sweep(before time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM plans WHERE updated_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sweep plans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep plans: %w", err)
	}
	return int(n), nil
}
