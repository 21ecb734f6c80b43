// Package history provides revision sources that work without the network:
// an in-memory store used by tests and the scenario harness, and a loader
// that fills it from history dumps on disk.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/reparanda/internal/osm"
)

type entity struct {
	revs   map[int]*osm.Revision
	max    int
	latest osm.Status // StatusUnknown means derive from the revisions
}

// Memory is a revision source over a fixed set of histories.
//
// A version missing between 1 and the highest stored version is reported as
// redacted, the same way the API's history call leaves redacted versions
// out. The latest revision of an entity whose highest version is invisible is
// reported as deleted. The API never redacts a current version, so a
// redacted highest version makes Latest report StatusError.
//
// Memory is safe for concurrent use. Returned revisions are copies.
type Memory struct {
	mu       sync.Mutex
	entities map[osm.EntityKey]*entity
	fetches  int
}

// NewMemory creates a source holding revs.
func NewMemory(revs ...*osm.Revision) *Memory {
	m := &Memory{entities: make(map[osm.EntityKey]*entity)}
	m.Add(revs...)
	return m
}

// Add stores revisions, replacing any with the same key and version.
func (m *Memory) Add(revs ...*osm.Revision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range revs {
		e := m.entity(r.Key())
		e.revs[r.Version] = r.Clone()
		if r.Version > e.max {
			e.max = r.Version
		}
	}
}

// Redact removes a stored version so that it reads as redacted.
func (m *Memory) Redact(key osm.EntityKey, version int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entities[key]; ok {
		delete(e.revs, version)
	}
}

// SetLatestStatus forces the status returned by Latest for key. Passing
// StatusExists restores the default behaviour.
func (m *Memory) SetLatestStatus(key osm.EntityKey, st osm.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entity(key)
	if st == osm.StatusExists {
		st = osm.StatusUnknown
	}
	e.latest = st
}

// Fetches returns how many Revision and Latest calls were served.
func (m *Memory) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

// Keys returns the stored entities in kind, id order.
func (m *Memory) Keys() []osm.EntityKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]osm.EntityKey, 0, len(m.entities))
	for k := range m.entities {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// History returns every disclosable revision of key in version order.
func (m *Memory) History(_ context.Context, key osm.EntityKey) ([]*osm.Revision, osm.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[key]
	if !ok || len(e.revs) == 0 {
		return nil, osm.StatusNotFound
	}
	out := make([]*osm.Revision, 0, len(e.revs))
	for _, r := range e.revs {
		out = append(out, r.Clone())
	}
	osm.SortRevisions(out)
	return out, osm.StatusExists
}

// Revision implements the engine's Source.
func (m *Memory) Revision(_ context.Context, key osm.EntityKey, version int, fallback bool) (*osm.Revision, osm.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++

	e, ok := m.entities[key]
	if !ok || version < 1 || version > e.max {
		return nil, osm.StatusNotFound
	}
	if r, ok := e.revs[version]; ok {
		return r.Clone(), osm.StatusExists
	}
	if !fallback {
		return nil, osm.StatusRedacted
	}
	for v := version - 1; v >= 1; v-- {
		if r, ok := e.revs[v]; ok {
			return r.Clone(), osm.StatusRedactedFallback
		}
	}
	return nil, osm.StatusRedacted
}

// Latest implements the engine's Source.
func (m *Memory) Latest(_ context.Context, key osm.EntityKey) (*osm.Revision, osm.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++

	e, ok := m.entities[key]
	if !ok {
		return nil, osm.StatusNotFound
	}
	if e.latest != osm.StatusUnknown {
		return nil, e.latest
	}
	r, ok := e.revs[e.max]
	if !ok {
		return nil, osm.StatusError
	}
	if !r.Visible {
		return nil, osm.StatusDeleted
	}
	return r.Clone(), osm.StatusExists
}

func (m *Memory) entity(key osm.EntityKey) *entity {
	e, ok := m.entities[key]
	if !ok {
		e = &entity{revs: make(map[int]*osm.Revision)}
		m.entities[key] = e
	}
	return e
}

// LoadDir fills a Memory from every .osm and .osc file under dir.
func LoadDir(dir string) (*Memory, error) {
	m := NewMemory()
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".osm" && ext != ".osc" {
			return nil
		}
		revs, err := osm.ReadFile(path)
		if err != nil {
			return err
		}
		m.Add(revs...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load history dir %s: %w", dir, err)
	}
	return m, nil
}
