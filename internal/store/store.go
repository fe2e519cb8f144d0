// Package store persists board snapshots.
//
// Every backend implements Gateway. Backends that also keep board metadata
// (title, owner) implement BoardCreator.
package store

import (
	"context"
	"errors"

	"whiteboard-backend/internal/model"
)

// ErrNotFound is returned by Load when no snapshot exists for the board.
var ErrNotFound = errors.New("board not found")

// Gateway loads and saves whole-board snapshots. Implementations must be safe
// for concurrent use across different boards.
type Gateway interface {
	Load(ctx context.Context, id model.BoardID) (model.Snapshot, error)
	Save(ctx context.Context, id model.BoardID, snap model.Snapshot) error
}

// BoardCreator records metadata for a freshly minted board.
type BoardCreator interface {
	CreateBoard(ctx context.Context, meta model.BoardMeta) error
}

// Pinger is implemented by backends that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}
