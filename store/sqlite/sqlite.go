// Package sqlite is the self-hosted MessageStore backend, used in dev
// mode and by the store-level tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/mattn/go-sqlite3"

	"github.com/ebelyak/sealwire/models"
	"github.com/ebelyak/sealwire/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username              TEXT NOT NULL PRIMARY KEY,
	password_hash         BLOB NOT NULL,
	public_key            BLOB NOT NULL,
	fingerprint           TEXT NOT NULL,
	encrypted_private_key BLOB NOT NULL,
	created               INTEGER NOT NULL,
	last_seen             INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS envelopes (
	id                TEXT NOT NULL PRIMARY KEY,
	conv_key          TEXT NOT NULL,
	from_user         TEXT NOT NULL,
	to_user           TEXT NOT NULL,
	encrypted_content BLOB NOT NULL,
	encrypted_key     BLOB NOT NULL,
	message_type      TEXT NOT NULL,
	created_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_envelopes_conv ON envelopes(conv_key, created_at);
CREATE INDEX IF NOT EXISTS idx_envelopes_from ON envelopes(from_user);
CREATE INDEX IF NOT EXISTS idx_envelopes_to   ON envelopes(to_user);
`

type SQLiteMessageStore struct {
	db *sql.DB

	// Guards CreatedAt assignment: strictly increasing per instance
	// even when senders append concurrently.
	mu     sync.Mutex
	lastTS int64
}

func NewSQLiteMessageStore(path string) (*SQLiteMessageStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteMessageStore{db: db}, nil
}

func (s *SQLiteMessageStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteMessageStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	user.Created = time.Now().Unix()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, public_key, fingerprint, encrypted_private_key, created, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.Username, user.PasswordHash, user.PublicKey, user.Fingerprint,
		user.EncryptedPrivateKey, user.Created, user.LastSeen)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return models.User{}, store.ErrAlreadyExists
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}

	return user, nil
}

func (s *SQLiteMessageStore) GetUser(ctx context.Context, username string) (models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash, public_key, fingerprint, encrypted_private_key, created, last_seen
		 FROM users WHERE username = ?`, username)

	var u models.User
	err := row.Scan(&u.Username, &u.PasswordHash, &u.PublicKey, &u.Fingerprint,
		&u.EncryptedPrivateKey, &u.Created, &u.LastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, store.ErrItemNotFound
		}
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQLiteMessageStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, public_key, fingerprint, created, last_seen
		 FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.Username, &u.PublicKey, &u.Fingerprint, &u.Created, &u.LastSeen); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteMessageStore) UpdateLastSeen(ctx context.Context, username string, lastSeen int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_seen = ? WHERE username = ?`, lastSeen, username)
	if err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrItemNotFound
	}
	return nil
}

// nextCreatedAt hands out unix-microsecond timestamps guaranteed to be
// strictly increasing for this store instance.
func (s *SQLiteMessageStore) nextCreatedAt() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := time.Now().UnixMicro()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	return ts
}

func (s *SQLiteMessageStore) AppendEnvelope(ctx context.Context, env models.Envelope) (models.Envelope, error) {
	if err := store.ValidateEnvelope(env); err != nil {
		return models.Envelope{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return models.Envelope{}, fmt.Errorf("envelope id: %w", err)
	}
	env.Id = id.String()
	env.CreatedAt = s.nextCreatedAt()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO envelopes (id, conv_key, from_user, to_user, encrypted_content, encrypted_key, message_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		env.Id, store.ConversationKey(env.From, env.To), env.From, env.To,
		env.EncryptedContent, env.EncryptedKey, string(env.MessageType), env.CreatedAt)
	if err != nil {
		return models.Envelope{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	return env, nil
}

func (s *SQLiteMessageStore) Conversation(ctx context.Context, userA, userB string, limit int) ([]models.Envelope, error) {
	// Take the most recent `limit`, then present oldest first.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, from_user, to_user, encrypted_content, encrypted_key, message_type, created_at
		 FROM (
			SELECT * FROM envelopes WHERE conv_key = ?
			ORDER BY created_at DESC LIMIT ?
		 ) ORDER BY created_at ASC`,
		store.ConversationKey(userA, userB), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	return scanEnvelopes(rows)
}

func (s *SQLiteMessageStore) ConversationsFor(ctx context.Context, username string) ([]models.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conv_key, COUNT(*), MAX(created_at)
		 FROM envelopes
		 WHERE from_user = ? OR to_user = ?
		 GROUP BY conv_key
		 ORDER BY MAX(created_at) DESC`,
		username, username)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	type pair struct {
		convKey string
		count   int
		lastTS  int64
	}
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.convKey, &p.count, &p.lastTS); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	summaries := make([]models.ConversationSummary, 0, len(pairs))
	for _, p := range pairs {
		row := s.db.QueryRowContext(ctx,
			`SELECT id, from_user, to_user, encrypted_content, encrypted_key, message_type, created_at
			 FROM envelopes WHERE conv_key = ? AND created_at = ?`,
			p.convKey, p.lastTS)

		last, err := scanEnvelope(row)
		if err != nil {
			return nil, err
		}

		other := last.From
		if other == username {
			other = last.To
		}
		summaries = append(summaries, models.ConversationSummary{
			OtherUser:    other,
			LastMessage:  last,
			MessageCount: p.count,
		})
	}

	return summaries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row rowScanner) (models.Envelope, error) {
	var e models.Envelope
	var msgType string
	err := row.Scan(&e.Id, &e.From, &e.To, &e.EncryptedContent, &e.EncryptedKey, &msgType, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Envelope{}, store.ErrItemNotFound
		}
		return models.Envelope{}, fmt.Errorf("scan envelope: %w", err)
	}
	e.MessageType = models.MessageType(msgType)
	return e, nil
}

func scanEnvelopes(rows *sql.Rows) ([]models.Envelope, error) {
	envelopes := []models.Envelope{}
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, rows.Err()
}
