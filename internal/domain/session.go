// Package domain contains core domain types for the RAG server.
package domain

import (
	"time"
)

// Session represents a conversation identified by an opaque id with a
// sliding time-to-live. A session row is created on the first message and
// its expiry is pushed forward on every subsequent one.
type Session struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	ExpiresAt    time.Time `json:"expires_at"`
	MessageCount int       `json:"message_count"`
}

// Expired reports whether the session is past its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// SessionInfo is a snapshot of a session row plus a computed expiry flag.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	ExpiresAt    time.Time `json:"expires_at"`
	MessageCount int       `json:"message_count"`
	IsExpired    bool      `json:"is_expired"`
}

// StoreStats holds aggregate counters over the session store.
type StoreStats struct {
	TotalSessions         int     `json:"total_sessions"`
	ActiveSessions        int     `json:"active_sessions"`
	TotalMessages         int     `json:"total_messages"`
	AvgMessagesPerSession float64 `json:"avg_messages_per_session"`
	DatabaseSizeMB        float64 `json:"database_size_mb"`
}
