// Package manifest holds the registry of model descriptors. A Store hands out
// immutable Snapshots; publishing replaces the whole snapshot so readers never
// observe a partially updated manifest.
package manifest

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"assetd/pkg/types"
)

// Snapshot is an immutable manifest: descriptors plus version and timestamp.
type Snapshot struct {
	version     string
	lastUpdated time.Time
	models      map[string]types.ModelDescriptor
}

// New builds a snapshot, copying the descriptors. Duplicate or empty ids are
// rejected.
func New(version string, lastUpdated time.Time, models []types.ModelDescriptor) (*Snapshot, error) {
	s := &Snapshot{
		version:     version,
		lastUpdated: lastUpdated.UTC(),
		models:      make(map[string]types.ModelDescriptor, len(models)),
	}
	for i, m := range models {
		if m.ID == "" {
			return nil, fmt.Errorf("model %d: empty id", i)
		}
		if _, dup := s.models[m.ID]; dup {
			return nil, fmt.Errorf("model %q: duplicate id", m.ID)
		}
		if !m.Quality.Valid() {
			return nil, fmt.Errorf("model %q: invalid quality %d", m.ID, int(m.Quality))
		}
		if m.MemoryUsageMB < 0 {
			return nil, fmt.Errorf("model %q: negative memoryUsageMB", m.ID)
		}
		s.models[m.ID] = m.Clone()
	}
	return s, nil
}

// Empty returns a snapshot with no descriptors.
func Empty() *Snapshot {
	return &Snapshot{models: map[string]types.ModelDescriptor{}}
}

func (s *Snapshot) Version() string        { return s.version }
func (s *Snapshot) LastUpdated() time.Time { return s.lastUpdated }
func (s *Snapshot) Len() int               { return len(s.models) }

// Lookup returns a copy of the descriptor for id.
func (s *Snapshot) Lookup(id string) (types.ModelDescriptor, bool) {
	d, ok := s.models[id]
	if !ok {
		return types.ModelDescriptor{}, false
	}
	return d.Clone(), true
}

// Descriptors returns copies of all descriptors sorted by id.
func (s *Snapshot) Descriptors() []types.ModelDescriptor {
	out := make([]types.ModelDescriptor, 0, len(s.models))
	for _, d := range s.models {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Document renders the snapshot in its durable form.
func (s *Snapshot) Document() types.ManifestDocument {
	doc := types.ManifestDocument{Version: s.version, Models: s.Descriptors()}
	if !s.lastUpdated.IsZero() {
		doc.LastUpdated = s.lastUpdated.Format(time.RFC3339)
	}
	return doc
}

// FromDocument builds a snapshot from its durable form.
func FromDocument(doc types.ManifestDocument) (*Snapshot, error) {
	var ts time.Time
	if doc.LastUpdated != "" {
		var err error
		ts, err = time.Parse(time.RFC3339, doc.LastUpdated)
		if err != nil {
			return nil, fmt.Errorf("lastUpdated: %w", err)
		}
	}
	return New(doc.Version, ts, doc.Models)
}

// Store owns the current snapshot. Only publishers mutate it; everyone else
// reads snapshots.
type Store struct {
	cur atomic.Pointer[Snapshot]
}

// NewStore returns a store holding s (or an empty snapshot when s is nil).
func NewStore(s *Snapshot) *Store {
	st := &Store{}
	if s == nil {
		s = Empty()
	}
	st.cur.Store(s)
	return st
}

// Get returns the current snapshot.
func (st *Store) Get() *Snapshot { return st.cur.Load() }

// Publish replaces the current snapshot.
func (st *Store) Publish(s *Snapshot) {
	if s == nil {
		s = Empty()
	}
	st.cur.Store(s)
}

// Lookup is shorthand for Get().Lookup(id).
func (st *Store) Lookup(id string) (types.ModelDescriptor, bool) { return st.Get().Lookup(id) }
