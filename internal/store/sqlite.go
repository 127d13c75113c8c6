package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.io/infrasutra/mockinvoice/internal/config"
	"github.io/infrasutra/mockinvoice/internal/invoice"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// SQLite holds user accounts and, for the sqlite storage kind, the invoice collection.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
            username TEXT PRIMARY KEY,
            email TEXT NOT NULL DEFAULT '',
            full_name TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL,
            disabled INTEGER NOT NULL DEFAULT 0,
            password_hash TEXT NOT NULL,
            created_at INTEGER NOT NULL,
            last_login INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS invoices (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            message_id TEXT NOT NULL,
            document TEXT NOT NULL,
            created_at INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_message ON invoices(message_id);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// CreateUser inserts a new account; an existing username yields ErrUserExists.
func (s *SQLite) CreateUser(ctx context.Context, user User) error {
	result, err := s.db.ExecContext(ctx, `INSERT INTO users
        (username, email, full_name, role, disabled, password_hash, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(username) DO NOTHING;`,
		user.Username,
		user.Email,
		user.FullName,
		user.Role,
		user.Disabled,
		user.PasswordHash,
		user.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if rows == 0 {
		return ErrUserExists
	}
	return nil
}

func (s *SQLite) GetUser(ctx context.Context, username string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT username, email, full_name, role, disabled, password_hash, created_at, last_login
        FROM users WHERE username = ?;`, username)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *SQLite) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, email, full_name, role, disabled, password_hash, created_at, last_login
        FROM users ORDER BY created_at, username;`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *SQLite) TouchLogin(ctx context.Context, username string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE username = ?;`, now.Unix(), username)
	if err != nil {
		return fmt.Errorf("touch login: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	var createdAt, lastLogin int64
	if err := row.Scan(
		&user.Username,
		&user.Email,
		&user.FullName,
		&user.Role,
		&user.Disabled,
		&user.PasswordHash,
		&createdAt,
		&lastLogin,
	); err != nil {
		return User{}, err
	}
	user.CreatedAt = time.Unix(createdAt, 0)
	if lastLogin > 0 {
		user.LastLogin = time.Unix(lastLogin, 0)
	}
	return user, nil
}

// Invoices returns the invoice collection view of the database. Closing it does not
// close the database.
func (s *SQLite) Invoices() Store {
	return &sqliteInvoices{db: s.db, now: time.Now}
}

type sqliteInvoices struct {
	db  *sql.DB
	now func() time.Time
}

func (s *sqliteInvoices) Kind() string { return config.StorageSQLite }

func (s *sqliteInvoices) Close() error { return nil }

func (s *sqliteInvoices) Insert(ctx context.Context, records []invoice.Email) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer tx.Rollback()

	createdAt := s.now().Unix()
	for _, record := range records {
		document, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode invoice %s: %w", record.MessageID, err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO invoices (message_id, document, created_at)
            VALUES (?, ?, ?);`, record.MessageID, string(document), createdAt)
		if err != nil {
			return unavailable("insert invoice", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit invoices", err)
	}
	return nil
}

func (s *sqliteInvoices) List(ctx context.Context, offset, limit int) ([]invoice.Email, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT seq, document FROM invoices ORDER BY seq LIMIT ? OFFSET ?;`, limit, offset)
	if err != nil {
		return nil, unavailable("list invoices", err)
	}
	defer rows.Close()

	records := []invoice.Email{}
	for rows.Next() {
		var seq int64
		var document string
		if err := rows.Scan(&seq, &document); err != nil {
			return nil, unavailable("scan invoice", err)
		}
		var record invoice.Email
		if err := json.Unmarshal([]byte(document), &record); err != nil {
			return nil, corrupt(fmt.Sprintf("decode invoice row %d", seq), err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list invoices", err)
	}
	return records, nil
}

func (s *sqliteInvoices) Count(ctx context.Context) (int, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM invoices;`).Scan(&total); err != nil {
		return 0, unavailable("count invoices", err)
	}
	return int(total), nil
}

func (s *sqliteInvoices) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM invoices;`); err != nil {
		return unavailable("clear invoices", err)
	}
	return nil
}
