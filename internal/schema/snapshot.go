// Package schema implements C2: normalizing C1's raw introspection into
// the canonical SchemaSnapshot and tracking the active table subset for
// one connection.
package schema

import (
	"context"
	"sync"
	"time"

	"github.com/nlquery/nlquery-go/internal/dbadapter"
	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

const defaultSnapshotTTL = 5 * time.Minute

type cachedSnapshot struct {
	snap *nlquery.SchemaSnapshot
	expiresAt time.Time
}

// Store attaches connection_info to raw introspection results and tracks
// a per-connection table subset restriction. It is the single
// place downstream components call to get the current schema view for a
// connection. Introspection results are cached per connection_id for a
// short TTL so repeated queries against one handle don't re-introspect on
// every attempt; C9's background sweep prunes expired entries.
type Store struct {
	adapter *dbadapter.Adapter
	ttl time.Duration

	mu sync.Mutex
	subsets map[string][]string // connection_id -> restricted table names
	snapshots map[string]cachedSnapshot
}

func NewStore(adapter *dbadapter.Adapter) *Store {
	return &Store{
		adapter: adapter,
		ttl: defaultSnapshotTTL,
		subsets: make(map[string][]string),
		snapshots: make(map[string]cachedSnapshot),
	}
}

// SetTTL changes the snapshot cache lifetime; a non-positive ttl restores
// the default.
func (s *Store) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
}

// Snapshot introspects the connection and normalizes the result: tables
// and views are always lists, connection_info/database_name/timestamp are
// always populated. The active table subset, if any, is applied. A fresh
// cached snapshot is returned without re-introspecting when present.
func (s *Store) Snapshot(ctx context.Context, handle nlquery.ConnectionHandle) (*nlquery.SchemaSnapshot, error) {
	id := handle.ConnectionID()

	s.mu.Lock()
	if cached, ok := s.snapshots[id]; ok && time.Now().Before(cached.expiresAt) {
		s.mu.Unlock()
		return cached.snap, nil
	}
	s.mu.Unlock()

	subset := s.ActiveSubset(handle)
	snap, err := s.adapter.Introspect(ctx, handle, subset)
	if err != nil {
		return nil, err
	}
	if snap.Tables == nil {
		snap.Tables = []nlquery.TableInfo{}
	}
	if snap.Views == nil {
		snap.Views = []nlquery.TableInfo{}
	}
	snap.Timestamp = time.Now()

	s.mu.Lock()
	s.snapshots[id] = cachedSnapshot{snap: snap, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return snap, nil
}

// Prune evicts expired cached snapshots. Called periodically by C9's
// background sweep.
func (s *Store) Prune() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cached := range s.snapshots {
		if now.After(cached.expiresAt) {
			delete(s.snapshots, id)
		}
	}
}

// RestrictTables sets the active table subset for a connection_id. An
// empty slice clears the restriction (equivalent to Disconnect). Changing
// the subset invalidates the cached snapshot, since the snapshot's table
// list depends on it.
func (s *Store) RestrictTables(handle nlquery.ConnectionHandle, tables []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, handle.ConnectionID())
	if len(tables) == 0 {
		delete(s.subsets, handle.ConnectionID())
		return
	}
	cp := make([]string, len(tables))
	copy(cp, tables)
	s.subsets[handle.ConnectionID()] = cp
}

// ActiveSubset returns the currently restricted table names for a
// connection, or nil if unrestricted.
func (s *Store) ActiveSubset(handle nlquery.ConnectionHandle) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subsets[handle.ConnectionID()]
}

// Disconnect clears the table subset restriction and releases the underlying pool
// connection.
func (s *Store) Disconnect(handle nlquery.ConnectionHandle) {
	s.mu.Lock()
	delete(s.subsets, handle.ConnectionID())
	delete(s.snapshots, handle.ConnectionID())
	s.mu.Unlock()
	s.adapter.Disconnect(handle)
}
