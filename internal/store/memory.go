package store

import (
	"context"
	"sync"

	"whiteboard-backend/internal/model"
)

// Memory keeps encoded snapshots in a map. Data is lost on restart.
type Memory struct {
	mu     sync.RWMutex
	boards map[model.BoardID][]byte
	meta   map[model.BoardID]model.BoardMeta
}

func NewMemory() *Memory {
	return &Memory{
		boards: make(map[model.BoardID][]byte),
		meta:   make(map[model.BoardID]model.BoardMeta),
	}
}

func (m *Memory) Load(ctx context.Context, id model.BoardID) (model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.Snapshot{}, err
	}

	m.mu.RLock()
	data, ok := m.boards[id]
	m.mu.RUnlock()
	if !ok {
		return model.Snapshot{}, ErrNotFound
	}
	return model.DecodeSnapshot(data)
}

func (m *Memory) Save(ctx context.Context, id model.BoardID, snap model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// stored encoded so later mutations of snap cannot leak in
	data, err := snap.Encode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.boards[id] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) CreateBoard(ctx context.Context, meta model.BoardMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := model.EmptySnapshot().Encode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[meta.BoardID] = meta
	if _, ok := m.boards[meta.BoardID]; !ok {
		m.boards[meta.BoardID] = data
	}
	return nil
}

// Meta returns the metadata recorded by CreateBoard.
func (m *Memory) Meta(id model.BoardID) (model.BoardMeta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.meta[id]
	return meta, ok
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}
