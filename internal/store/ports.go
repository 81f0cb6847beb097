// Package store defines the persistence port for splitting sessions.
package store

import (
	"context"
	"errors"
	"time"

	"chongmu/internal/core"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExists   = errors.New("session already exists")
	// ErrConflict is returned by Save when the stored revision is not the
	// one the snapshot was derived from.
	ErrConflict = errors.New("session revision conflict")
)

// SessionInfo is the listing view of a session.
type SessionInfo struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Owner            string    `json:"owner,omitempty"`
	Revision         int64     `json:"revision"`
	ParticipantCount int       `json:"participantCount"`
	ExpenseCount     int       `json:"expenseCount"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// InfoOf builds the listing view of a snapshot.
func InfoOf(s core.Snapshot) SessionInfo {
	return SessionInfo{
		ID:               s.SessionID,
		Title:            s.Title,
		Owner:            s.Owner,
		Revision:         s.Revision,
		ParticipantCount: len(s.Participants),
		ExpenseCount:     len(s.Expenses),
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

// SessionStore persists whole session snapshots.
//
// Save succeeds only when the stored revision equals s.Revision-1.
// List returns sessions ordered by most recent update; an empty owner
// lists every session.
type SessionStore interface {
	Create(ctx context.Context, s core.Snapshot) error
	Get(ctx context.Context, id string) (core.Snapshot, error)
	Save(ctx context.Context, s core.Snapshot) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, owner string) ([]SessionInfo, error)
}
