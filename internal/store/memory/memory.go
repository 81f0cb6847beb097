package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"chongmu/internal/core"
	"chongmu/internal/snapshot"
	"chongmu/internal/store"
)

// Store keeps sessions in process memory. Snapshots are deep-copied on the
// way in and out so callers never share state with the store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]core.Snapshot
}

func New() *Store {
	return &Store{sessions: make(map[string]core.Snapshot)}
}

// NewFromDir seeds a store from every *.json session document in dir.
// Documents without a session id take the file name as id. A missing
// directory yields an empty store.
func NewFromDir(dir string) (*Store, error) {
	s := New()
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scan seed directory: %w", err)
	}
	sort.Strings(paths)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read seed %s: %w", path, err)
		}
		snap, err := snapshot.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("decode seed %s: %w", path, err)
		}
		if snap.SessionID == "" {
			snap.SessionID = strings.TrimSuffix(filepath.Base(path), ".json")
		}
		if snap.Title == "" {
			snap.Title = snap.SessionID
		}
		if snap.Revision == 0 {
			snap.Revision = 1
		}
		if err := s.Create(context.Background(), snap); err != nil {
			return nil, fmt.Errorf("seed %s: %w", path, err)
		}
	}
	return s, nil
}

func (s *Store) Create(_ context.Context, snap core.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[snap.SessionID]; ok {
		return fmt.Errorf("%w: %s", store.ErrExists, snap.SessionID)
	}
	s.sessions[snap.SessionID] = snap.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, id string) (core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.sessions[id]
	if !ok {
		return core.Snapshot{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return snap.Clone(), nil
}

func (s *Store) Save(_ context.Context, snap core.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[snap.SessionID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, snap.SessionID)
	}
	if cur.Revision != snap.Revision-1 {
		return fmt.Errorf("%w: stored %d, saving %d", store.ErrConflict, cur.Revision, snap.Revision)
	}
	s.sessions[snap.SessionID] = snap.Clone()
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	delete(s.sessions, id)
	return nil
}

func (s *Store) List(_ context.Context, owner string) ([]store.SessionInfo, error) {
	s.mu.RLock()
	out := make([]store.SessionInfo, 0, len(s.sessions))
	for _, snap := range s.sessions {
		if owner != "" && snap.Owner != owner {
			continue
		}
		out = append(out, store.InfoOf(snap))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
