package service

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ExportedRunGuard is an exported alias so _test packages can test the guard.
type ExportedRunGuard = runGuard

// ─────────────────────────────────────────────────────────────
// runGuard: at most one batch per database
// ─────────────────────────────────────────────────────────────

// runGuard tracks which databases have a batch in flight and since when.
// The zero value is ready to use.
type runGuard struct {
	mu     sync.Mutex
	active map[string]time.Time
	wg     sync.WaitGroup
}

// TryLock claims database. It returns false when a batch already holds it.
func (g *runGuard) TryLock(database string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		g.active = make(map[string]time.Time)
	}
	if _, busy := g.active[database]; busy {
		return false
	}
	g.active[database] = time.Now()
	g.wg.Add(1)
	return true
}

// Unlock releases database. Only valid after a successful TryLock.
func (g *runGuard) Unlock(database string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.active[database]; !ok {
		return
	}
	delete(g.active, database)
	g.wg.Done()
}

// Since reports when the batch holding database started.
func (g *runGuard) Since(database string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.active[database]
	return t, ok
}

// Active lists the databases with a batch in flight, sorted.
func (g *runGuard) Active() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.active))
	for db := range g.active {
		out = append(out, db)
	}
	sort.Strings(out)
	return out
}

// WaitAll blocks until every held database is released or ctx is done.
func (g *runGuard) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
