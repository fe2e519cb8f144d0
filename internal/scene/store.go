// Package scene holds the authoritative in-memory object collection of one board.
//
// A Store is a plain data structure. It performs no I/O and no locking; the room
// goroutine that owns it is the only caller.
package scene

import (
	"errors"
	"fmt"

	"whiteboard-backend/internal/model"
)

var (
	ErrSceneFull     = errors.New("scene object limit reached")
	ErrInvalidObject = errors.New("invalid scene object")
)

// DefaultMaxObjects matches the per-board object cap of the web client.
const DefaultMaxObjects = 10000

// Store is an insertion-ordered set of scene objects keyed by ObjectID.
//
// Deleted entries leave a tombstone in the order slice so deletes stay O(1);
// tombstones are compacted once they outnumber live entries.
type Store struct {
	formatVersion string
	maxObjects    int

	entries []*model.SceneObject
	index   map[model.ObjectID]int
	live    int

	version uint64
}

// New creates an empty store. maxObjects <= 0 means DefaultMaxObjects.
func New(formatVersion string, maxObjects int) *Store {
	if formatVersion == "" {
		formatVersion = model.DefaultFormatVersion
	}
	if maxObjects <= 0 {
		maxObjects = DefaultMaxObjects
	}
	return &Store{
		formatVersion: formatVersion,
		maxObjects:    maxObjects,
		index:         make(map[model.ObjectID]int),
	}
}

// FromSnapshot builds a store from a persisted snapshot, preserving object order.
// Objects that fail validation are skipped and counted; a repeated id replaces
// the earlier entry in place.
func FromSnapshot(s model.Snapshot, maxObjects int) (*Store, int) {
	st := New(s.FormatVersion, maxObjects)
	skipped := 0
	for _, obj := range s.Objects {
		if _, err := st.Insert(obj); err != nil {
			skipped++
		}
	}
	// loading is not a mutation
	st.version = 0
	return st, skipped
}

// Insert adds obj, or replaces the object with the same id in place
// (last write wins). It reports whether an existing object was replaced.
func (s *Store) Insert(obj model.SceneObject) (bool, error) {
	obj, err := obj.Normalize()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidObject, err)
	}

	if pos, ok := s.index[obj.ID]; ok {
		s.entries[pos] = &obj
		s.version++
		return true, nil
	}

	if s.live >= s.maxObjects {
		return false, ErrSceneFull
	}

	s.index[obj.ID] = len(s.entries)
	s.entries = append(s.entries, &obj)
	s.live++
	s.version++
	return false, nil
}

// Update replaces an existing object. It reports false when the id is unknown.
func (s *Store) Update(obj model.SceneObject) (bool, error) {
	obj, err := obj.Normalize()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidObject, err)
	}

	pos, ok := s.index[obj.ID]
	if !ok {
		return false, nil
	}
	s.entries[pos] = &obj
	s.version++
	return true, nil
}

// Delete removes the object with the given id. It reports whether it existed.
func (s *Store) Delete(id model.ObjectID) bool {
	pos, ok := s.index[id]
	if !ok {
		return false
	}

	s.entries[pos] = nil
	delete(s.index, id)
	s.live--
	s.version++

	if holes := len(s.entries) - s.live; holes > 32 && holes > s.live {
		s.compact()
	}
	return true
}

// Clear drops every object but keeps the format version.
func (s *Store) Clear() {
	s.entries = nil
	s.index = make(map[model.ObjectID]int)
	s.live = 0
	s.version++
}

// Get returns the object with the given id.
func (s *Store) Get(id model.ObjectID) (model.SceneObject, bool) {
	pos, ok := s.index[id]
	if !ok {
		return model.SceneObject{}, false
	}
	return *s.entries[pos], true
}

// Len is the number of live objects.
func (s *Store) Len() int {
	return s.live
}

// Version increases on every mutation.
func (s *Store) Version() uint64 {
	return s.version
}

// FormatVersion of the snapshots this store produces.
func (s *Store) FormatVersion() string {
	return s.formatVersion
}

// ToSnapshot copies the live objects in order.
func (s *Store) ToSnapshot() model.Snapshot {
	objects := make([]model.SceneObject, 0, s.live)
	for _, e := range s.entries {
		if e != nil {
			objects = append(objects, *e)
		}
	}
	return model.Snapshot{
		FormatVersion: s.formatVersion,
		Objects:       objects,
	}
}

func (s *Store) compact() {
	entries := make([]*model.SceneObject, 0, s.live)
	for _, e := range s.entries {
		if e == nil {
			continue
		}
		s.index[e.ID] = len(entries)
		entries = append(entries, e)
	}
	s.entries = entries
}
