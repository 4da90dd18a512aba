package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"roomhub/hub"
	"roomhub/models"
)

var ErrNoRows = errors.New("no rows found")

// DB is the sqlite-backed credential and history store.
type DB struct {
	conn       *sql.DB
	maxHistory int
	cost       int
}

func New(path string, maxHistory int) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn, maxHistory: maxHistory, cost: bcrypt.DefaultCost}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

// SetCost changes the bcrypt cost used for new passwords.
func (db *DB) SetCost(cost int) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	db.cost = cost
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			login TEXT UNIQUE NOT NULL COLLATE NOCASE,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room TEXT NOT NULL,
			author TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			color INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room, id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// User methods

// Create registers a new user with a bcrypt-hashed password. A concurrent
// registration of the same login loses on the unique index and gets
// hub.ErrNameTaken as well.
func (db *DB) Create(ctx context.Context, login, password string) error {
	exists, err := db.UserExists(ctx, login)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("create user %s: %w", login, hub.ErrNameTaken)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), db.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO users (login, password) VALUES (?, ?)",
		login, string(hashed),
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("create user %s: %w", login, hub.ErrNameTaken)
	}
	if err != nil {
		return fmt.Errorf("create user %s: %w", login, err)
	}

	log.Debug().Str("component", "db").Str("login", login).Msg("user created")
	return nil
}

// Verify reports whether password matches the stored hash for login.
// An unknown login is not an error.
func (db *DB) Verify(ctx context.Context, login, password string) (bool, error) {
	user, err := db.GetUser(ctx, login)
	if errors.Is(err, ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password))
	return err == nil, nil
}

func (db *DB) GetUser(ctx context.Context, login string) (*models.User, error) {
	var u models.User
	err := db.conn.QueryRowContext(ctx,
		"SELECT id, login, password FROM users WHERE login = ?", login,
	).Scan(&u.ID, &u.Login, &u.Password)
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", login, err)
	}
	return &u, nil
}

func (db *DB) UserExists(ctx context.Context, login string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE login = ?", login).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("user exists %s: %w", login, err)
	}
	return count > 0, nil
}

// Message methods

// Append stores msg and evicts the oldest rows of its room beyond the
// history window.
func (db *DB) Append(ctx context.Context, msg models.Message) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (room, author, text, timestamp, color) VALUES (?, ?, ?, ?, ?)",
		msg.Room, msg.Author, msg.Text, msg.Timestamp, msg.Color,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	if db.maxHistory > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM messages
			WHERE room = ? AND id NOT IN (
				SELECT id FROM messages WHERE room = ? ORDER BY id DESC LIMIT ?
			)`,
			msg.Room, msg.Room, db.maxHistory,
		)
		if err != nil {
			return fmt.Errorf("trim history of %s: %w", msg.Room, err)
		}
	}

	return tx.Commit()
}

// Recent returns up to limit of the newest messages of room, oldest first.
func (db *DB) Recent(ctx context.Context, room string, limit int) ([]models.Message, error) {
	query := `
		SELECT room, author, text, timestamp, color FROM (
			SELECT id, room, author, text, timestamp, color
			FROM messages
			WHERE room = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`

	rows, err := db.conn.QueryContext(ctx, query, room, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages of %s: %w", room, err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.Room, &m.Author, &m.Text, &m.Timestamp, &m.Color); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// Clear removes every stored message of room.
func (db *DB) Clear(ctx context.Context, room string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM messages WHERE room = ?", room)
	if err != nil {
		return fmt.Errorf("clear history of %s: %w", room, err)
	}
	return nil
}
