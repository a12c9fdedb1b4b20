package dbadapter

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

// pool holds one *sql.DB per distinct (dialect, host, port, database, user)
// tuple, with idle connections reaped after a TTL. Pool size and lifetime
// are tuned through the standard SetMaxOpenConns/SetMaxIdleConns/
// SetConnMaxLifetime knobs.
type pool struct {
	mu sync.Mutex
	entries map[string]*poolEntry
}

type poolEntry struct {
	db *sql.DB
	lastUsed time.Time
}

const idleReapTTL = 10 * time.Minute

func newPool() *pool {
	p := &pool{entries: make(map[string]*poolEntry)}
	go p.reapLoop()
	return p
}

func (p *pool) getOrOpen(ctx context.Context, handle nlquery.ConnectionHandle, dia Dialect) (*sql.DB, error) {
	key := handle.PoolKey()

	p.mu.Lock()
	if e, ok := p.entries[key]; ok {
		e.lastUsed = time.Now()
		p.mu.Unlock()
		return e.db, nil
	}
	p.mu.Unlock()

	db, err := dia.Open(ctx, handle)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		// lost the race; close the one we just opened and reuse the winner
		db.Close()
		e.lastUsed = time.Now()
		return e.db, nil
	}
	p.entries[key] = &poolEntry{db: db, lastUsed: time.Now()}
	return db, nil
}

func (p *pool) close(handle nlquery.ConnectionHandle) {
	key := handle.PoolKey()
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		e.db.Close()
		delete(p.entries, key)
	}
}

func (p *pool) reapLoop() {
	ticker := time.NewTicker(idleReapTTL / 2)
	defer ticker.Stop()
	for range ticker.C {
		p.reapOnce()
	}
}

func (p *pool) reapOnce() {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.entries {
		if now.Sub(e.lastUsed) > idleReapTTL {
			e.db.Close()
			delete(p.entries, key)
		}
	}
}
