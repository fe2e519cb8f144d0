// Package hub runs the live board sessions.
//
// A Manager owns the registry of active boards. Each board is served by a Room,
// a single goroutine that owns the board's scene and participant set; every
// operation on a board is a command processed by that goroutine in arrival
// order. Snapshots are written to a store.Gateway by a per-room saver goroutine
// on an autosave schedule and once more when the last participant leaves.
package hub

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/model"
)

var (
	ErrNotJoined      = errors.New("not joined to a board")
	ErrRoomClosed     = errors.New("board session is closed")
	ErrUnknownObject  = errors.New("unknown object")
	ErrMissingBoardID = errors.New("board id is required")
	ErrShuttingDown   = errors.New("server is shutting down")
	ErrNothingToSave  = errors.New("board state was not loaded; nothing to save")
)

// ProtocolError is reported to the participant that caused it and to nobody else.
type ProtocolError struct {
	Event string
	Err   error
}

func (e *ProtocolError) Error() string {
	if e.Event == "" {
		return e.Err.Error()
	}
	return e.Event + ": " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Connection is the outbound side of one participant's transport.
// Send must not block; Close must be idempotent.
type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Observer is notified about board lifecycle and roster changes. Calls are made
// from room goroutines and must return quickly.
type Observer interface {
	BoardOpened(id model.BoardID)
	BoardClosed(id model.BoardID)
	RosterChanged(id model.BoardID, participants []model.Participant)
}

// Config tunes the session engine.
type Config struct {
	AutosaveInterval time.Duration
	SaveTimeout      time.Duration
	LoadTimeout      time.Duration
	MaxObjects       int
	FormatVersion    string
	CursorRate       rate.Limit
	CursorBurst      int
	InboxSize        int
}

// DefaultConfig mirrors the defaults in internal/config.
func DefaultConfig() Config {
	return Config{
		AutosaveInterval: 5 * time.Minute,
		SaveTimeout:      10 * time.Second,
		LoadTimeout:      10 * time.Second,
		MaxObjects:       10000,
		FormatVersion:    model.DefaultFormatVersion,
		CursorRate:       30,
		CursorBurst:      5,
		InboxSize:        256,
	}
}

// ConfigFrom converts the board section of the app config.
func ConfigFrom(c config.BoardConfig) Config {
	cfg := DefaultConfig()
	cfg.AutosaveInterval = c.AutosaveInterval
	cfg.SaveTimeout = c.SaveTimeout
	cfg.LoadTimeout = c.LoadTimeout
	cfg.MaxObjects = c.MaxObjects
	cfg.FormatVersion = c.FormatVersion
	cfg.CursorRate = rate.Limit(c.CursorRate)
	cfg.CursorBurst = c.CursorBurst
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AutosaveInterval <= 0 {
		c.AutosaveInterval = d.AutosaveInterval
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = d.SaveTimeout
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = d.LoadTimeout
	}
	if c.MaxObjects <= 0 {
		c.MaxObjects = d.MaxObjects
	}
	if c.FormatVersion == "" {
		c.FormatVersion = d.FormatVersion
	}
	if c.CursorRate <= 0 {
		c.CursorRate = rate.Inf
	}
	if c.CursorBurst <= 0 {
		c.CursorBurst = 1
	}
	if c.InboxSize <= 0 {
		c.InboxSize = d.InboxSize
	}
	return c
}
