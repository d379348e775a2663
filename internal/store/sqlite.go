package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/okulov/ragserver/internal/domain"
	"github.com/okulov/ragserver/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
//
// Writers serialize through writeMu so the session upsert plus message
// insert never loses a message_count or expires_at update under concurrent
// callers, and so SQLITE_BUSY stays out of the write path. Reads go straight
// to the WAL-mode database and are not blocked by writers.
type SQLiteStore struct {
	db      *sql.DB
	dbPath  string
	ttl     time.Duration
	writeMu sync.Mutex
	now     func() time.Time
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed session repository. poolSize bounds
// the number of open database handles; operations past capacity queue on
// the pool rather than opening more.
func NewSQLite(dbPath string, ttl time.Duration, poolSize int) (*SQLiteStore, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("session TTL must be positive, got %v", ttl)
	}
	if poolSize <= 0 {
		poolSize = 10
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency. The _pragma form
	// is applied by the driver on every pooled connection, not just the
	// first one.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(min(poolSize, 5))
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		dbPath: dbPath,
		ttl:    ttl,
		now:    time.Now,
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_accessed INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, timestamp);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetHistory returns the session's messages in timestamp order. Unknown and
// expired sessions yield no messages and no error. A hit also refreshes the
// session's last_accessed timestamp.
func (s *SQLiteStore) GetHistory(ctx context.Context, sessionID string) ([]domain.Message, error) {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin history read: %w", err)
	}
	defer rollback(tx)

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE session_id = ? AND expires_at > ?`,
		sessionID, now.UnixNano(),
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_accessed = ? WHERE session_id = ?`,
		now.UnixNano(), sessionID,
	); err != nil {
		return nil, fmt.Errorf("update last_accessed: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT role, content, timestamp FROM messages
		 WHERE session_id = ?
		 ORDER BY timestamp ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer closeRows(rows)

	var messages []domain.Message
	for rows.Next() {
		var (
			role, content string
			ts            int64
		)
		if err := rows.Scan(&role, &content, &ts); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, domain.Message{
			SessionID: sessionID,
			Role:      domain.Role(role),
			Content:   content,
			Timestamp: time.Unix(0, ts),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit history read: %w", err)
	}
	return messages, nil
}

// AddMessage upserts the session row and appends the message in a single
// transaction. A new session gets expires_at = now+TTL; an existing one has
// its expiry slid forward to now+TTL.
func (s *SQLiteStore) AddMessage(ctx context.Context, sessionID string, role domain.Role, content string) error {
	if sessionID == "" {
		return fmt.Errorf("session id must not be empty")
	}
	if !role.Valid() {
		return fmt.Errorf("invalid message role %q", role)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.now()
	nowNS := now.UnixNano()
	expiresNS := now.Add(s.ttl).UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add message: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, created_at, last_accessed, expires_at, message_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(session_id) DO UPDATE SET
			last_accessed = excluded.last_accessed,
			expires_at = excluded.expires_at,
			message_count = sessions.message_count + 1`,
		sessionID, nowNS, nowNS, expiresNS,
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		sessionID, string(role), content, nowNS,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add message: %w", err)
	}
	return nil
}

// ClearSession deletes the session and all its messages. Clearing an absent
// session is a no-op. Retries with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) ClearSession(ctx context.Context, sessionID string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.clearSessionOnce(ctx, sessionID)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("ClearSession hit SQLITE_BUSY, retrying",
			"session_id", sessionID,
			"attempt", i+1,
			"delay", delay)
		time.Sleep(delay)
	}
	return fmt.Errorf("clear session %s: %w", sessionID, err)
}

func (s *SQLiteStore) clearSessionOnce(ctx context.Context, sessionID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer rollback(tx)

	// Explicit cascade: foreign_keys enforcement is per-connection in
	// SQLite, so the message delete does not rely on the pragma being set.
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	return nil
}

// ListActiveSessions returns the ids of all sessions with expires_at in the
// future.
func (s *SQLiteStore) ListActiveSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM sessions WHERE expires_at > ? ORDER BY session_id`,
		s.now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer closeRows(rows)

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active sessions: %w", err)
	}
	return ids, nil
}

// CleanupExpired deletes every session with expires_at <= now and returns
// the removed ids. The expiry condition is evaluated inside the deleting
// transaction, so a session whose TTL was extended concurrently survives
// the sweep.
func (s *SQLiteStore) CleanupExpired(ctx context.Context) ([]string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	nowNS := s.now().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin cleanup: %w", err)
	}
	defer rollback(tx)

	rows, err := tx.QueryContext(ctx,
		`SELECT session_id FROM sessions WHERE expires_at <= ?`, nowNS)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			closeRows(rows)
			return nil, fmt.Errorf("scan expired session id: %w", err)
		}
		expired = append(expired, id)
	}
	if err := rows.Err(); err != nil {
		closeRows(rows)
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	closeRows(rows)

	if len(expired) == 0 {
		return nil, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM messages WHERE session_id IN
			(SELECT session_id FROM sessions WHERE expires_at <= ?)`, nowNS); err != nil {
		return nil, fmt.Errorf("delete expired messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`, nowNS); err != nil {
		return nil, fmt.Errorf("delete expired sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cleanup: %w", err)
	}

	slog.Info("Cleaned up expired sessions", "count", len(expired))
	return expired, nil
}

// GetSessionInfo returns a snapshot of the session row, or nil if the
// session does not exist.
func (s *SQLiteStore) GetSessionInfo(ctx context.Context, sessionID string) (*domain.SessionInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, created_at, last_accessed, expires_at, message_count
		FROM sessions WHERE session_id = ?`, sessionID)

	var (
		info                             domain.SessionInfo
		createdNS, accessedNS, expiresNS int64
	)
	err := row.Scan(&info.SessionID, &createdNS, &accessedNS, &expiresNS, &info.MessageCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session info: %w", err)
	}

	info.CreatedAt = time.Unix(0, createdNS)
	info.LastAccessed = time.Unix(0, accessedNS)
	info.ExpiresAt = time.Unix(0, expiresNS)
	info.IsExpired = !info.ExpiresAt.After(s.now())
	return &info, nil
}

// GetStats returns aggregate counters over all sessions plus the database
// file size.
func (s *SQLiteStore) GetStats(ctx context.Context) (domain.StoreStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN expires_at > ? THEN 1 END),
			COALESCE(SUM(message_count), 0),
			COALESCE(AVG(message_count), 0)
		FROM sessions`, s.now().UnixNano())

	var stats domain.StoreStats
	if err := row.Scan(
		&stats.TotalSessions, &stats.ActiveSessions,
		&stats.TotalMessages, &stats.AvgMessagesPerSession,
	); err != nil {
		return domain.StoreStats{}, fmt.Errorf("scan store stats: %w", err)
	}
	stats.AvgMessagesPerSession = math.Round(stats.AvgMessagesPerSession*100) / 100

	if fi, err := os.Stat(s.dbPath); err == nil {
		stats.DatabaseSizeMB = math.Round(float64(fi.Size())/(1024*1024)*100) / 100
	}
	return stats, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		slog.Warn("transaction rollback failed", "error", err)
	}
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "error", err)
	}
}
