// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/okulov/ragserver/internal/domain"
)

// Repository defines the interface for persisting session conversation logs.
// It is the source of truth for conversation history; cached pipelines are
// hydrated from it and invalidated against it.
type Repository interface {
	// GetHistory returns the session's messages in timestamp order and
	// updates last_accessed. An unknown or expired session yields an empty
	// result, not an error.
	GetHistory(ctx context.Context, sessionID string) ([]domain.Message, error)

	// AddMessage atomically upserts the session row (creating it with a
	// fresh expiry, or extending the expiry of an existing one) and appends
	// the message. Both effects land in a single transaction.
	AddMessage(ctx context.Context, sessionID string, role domain.Role, content string) error

	// ClearSession deletes the session row and cascades message deletion.
	// Clearing an absent session is a no-op.
	ClearSession(ctx context.Context, sessionID string) error

	// ListActiveSessions returns the ids of all non-expired sessions.
	ListActiveSessions(ctx context.Context) ([]string, error)

	// CleanupExpired atomically deletes every expired session (cascading
	// its messages) and returns the removed ids so callers can invalidate
	// dependent caches.
	CleanupExpired(ctx context.Context) ([]string, error)

	// GetSessionInfo returns a snapshot of the session row plus a computed
	// is_expired flag, or nil if the session does not exist.
	GetSessionInfo(ctx context.Context, sessionID string) (*domain.SessionInfo, error)

	// GetStats returns aggregate counters over all sessions.
	GetStats(ctx context.Context) (domain.StoreStats, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
