package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/protocol"
	"whiteboard-backend/internal/scene"
	"whiteboard-backend/internal/store"
)

// BoardIDLength is the length of minted board ids.
const BoardIDLength = 10

// NewBoardID mints a random base62 board id.
func NewBoardID() model.BoardID {
	u := uuid.New()
	return model.BoardID(base62.EncodeToString(u[:])[:BoardIDLength])
}

// CreateBoardRequest describes a board created through create-board.
type CreateBoardRequest struct {
	Title     string
	IsPublic  bool
	CreatedBy *int64 // nil for guests
}

// BoardStats describes one active board.
type BoardStats struct {
	BoardID     model.BoardID `json:"boardId"`
	UserCount   int           `json:"userCount"`
	ObjectCount int           `json:"objectCount"`
	State       string        `json:"state"`
}

// Stats summarises every active board.
type Stats struct {
	ActiveBoards   int          `json:"activeBoards"`
	ConnectedUsers int          `json:"connectedUsers"`
	Boards         []BoardStats `json:"boards"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithObserver registers an observer for board lifecycle events.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// Manager is the registry of live rooms. At most one Room exists per board id.
type Manager struct {
	cfg      Config
	gw       store.Gateway
	log      zerolog.Logger
	autosave *Autosave
	observer Observer

	mu     sync.Mutex
	rooms  map[model.BoardID]*Room
	closed bool
}

// NewManager creates a manager saving through gw.
func NewManager(gw store.Gateway, cfg Config, log zerolog.Logger, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	log = log.With().Str("component", "hub").Logger()

	m := &Manager{
		cfg:      cfg,
		gw:       gw,
		log:      log,
		autosave: NewAutosave(cfg.AutosaveInterval, log),
		rooms:    make(map[model.BoardID]*Room),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Resolve returns the live room for id, loading it from the gateway if needed.
// The returned room may drain as soon as it has no participants; use Join to
// attach a connection.
func (m *Manager) Resolve(ctx context.Context, id model.BoardID) (*Room, error) {
	r, err := m.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	r.unreserve()
	return r, nil
}

// Join attaches conn to board id, creating the room on first use. The
// participant receives board-joined before any other board traffic.
func (m *Manager) Join(ctx context.Context, id model.BoardID, conn Connection, p model.Participant) (*Room, error) {
	r, err := m.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.join(conn, p, protocol.BoardJoined); err != nil {
		return nil, err
	}
	return r, nil
}

// Create mints a new board, records its metadata when the gateway supports it
// and the creator is a known user, and attaches conn as the first participant.
func (m *Manager) Create(ctx context.Context, req CreateBoardRequest, conn Connection, p model.Participant) (*Room, error) {
	id, err := m.mintID()
	if err != nil {
		return nil, err
	}

	if creator, ok := m.gw.(store.BoardCreator); ok && req.CreatedBy != nil {
		meta := model.BoardMeta{
			BoardID:   id,
			Title:     model.NormalizeTitle(req.Title),
			CreatedBy: req.CreatedBy,
			IsPublic:  req.IsPublic,
		}
		if err := creator.CreateBoard(ctx, meta); err != nil {
			return nil, fmt.Errorf("create board: %w", err)
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if _, exists := m.rooms[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("create board: id %s already active", id)
	}
	r := newRoom(m, id)
	r.reserve()
	m.rooms[id] = r
	m.mu.Unlock()

	m.start(r, scene.New(m.cfg.FormatVersion, m.cfg.MaxObjects), false)
	m.log.Info().Str("board", string(id)).Str("participant", p.ID).Msg("Board created")

	if err := r.join(conn, p, protocol.BoardCreated); err != nil {
		return nil, err
	}
	return r, nil
}

func (m *Manager) mintID() (model.BoardID, error) {
	for i := 0; i < 5; i++ {
		id := NewBoardID()
		m.mu.Lock()
		_, exists := m.rooms[id]
		m.mu.Unlock()
		if !exists {
			return id, nil
		}
	}
	return "", errors.New("could not mint a unique board id")
}

// acquire returns an active room for id holding a join reservation. The
// reservation keeps the room from being released until join or unreserve.
func (m *Manager) acquire(ctx context.Context, id model.BoardID) (*Room, error) {
	if id == "" {
		return nil, &ProtocolError{Event: protocol.JoinBoard, Err: ErrMissingBoardID}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	r, exists := m.rooms[id]
	if !exists {
		r = newRoom(m, id)
		m.rooms[id] = r
	}
	r.reserve()
	m.mu.Unlock()

	if !exists {
		m.load(r)
		return r, nil
	}

	select {
	case <-r.ready:
		return r, nil
	case <-ctx.Done():
		r.unreserve()
		return nil, ctx.Err()
	}
}

// load reads the snapshot for a cold room and activates it. A load failure
// other than ErrNotFound starts an empty board that is not saved until edited.
func (m *Manager) load(r *Room) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.LoadTimeout)
	snap, err := m.gw.Load(ctx, r.id)
	cancel()

	unloaded := false
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		snap = model.Snapshot{FormatVersion: m.cfg.FormatVersion}
	default:
		r.log.Error().Err(err).Msg("Snapshot load failed, starting with an empty board")
		snap = model.Snapshot{FormatVersion: m.cfg.FormatVersion}
		unloaded = true
	}

	st, skipped := scene.FromSnapshot(snap, m.cfg.MaxObjects)
	if skipped > 0 {
		r.log.Error().
			Int("skipped", skipped).
			Int("stored", len(snap.Objects)).
			Int("maxObjects", m.cfg.MaxObjects).
			Msg("Dropped objects from snapshot, the next save will not contain them")
	}
	m.start(r, st, unloaded)
}

func (m *Manager) start(r *Room, st *scene.Store, unloaded bool) {
	r.start(st, unloaded)
	if m.observer != nil {
		m.observer.BoardOpened(r.id)
	}
	r.log.Info().Int("objects", st.Len()).Msg("Room activated")
}

// release is called by a draining room after its final save. It removes the
// room unless a join is pending; force removes it regardless.
func (m *Manager) release(r *Room, force bool) bool {
	m.mu.Lock()
	if !force && !m.closed && r.pendingJoins() > 0 {
		m.mu.Unlock()
		return false
	}
	if m.rooms[r.id] == r {
		delete(m.rooms, r.id)
	}
	r.setState(StateDestroyed)
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.BoardClosed(r.id)
	}
	return true
}

// ActiveBoards is the number of live rooms.
func (m *Manager) ActiveBoards() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Stats reports every live room, sorted by board id.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	stats := Stats{Boards: make([]BoardStats, 0, len(rooms))}
	for _, r := range rooms {
		b := BoardStats{
			BoardID:     r.id,
			UserCount:   r.UserCount(),
			ObjectCount: r.ObjectCount(),
			State:       r.State().String(),
		}
		stats.ConnectedUsers += b.UserCount
		stats.Boards = append(stats.Boards, b)
	}
	stats.ActiveBoards = len(stats.Boards)
	sort.Slice(stats.Boards, func(i, j int) bool {
		return stats.Boards[i].BoardID < stats.Boards[j].BoardID
	})
	return stats
}

// Shutdown disconnects every participant and writes a final snapshot of every
// board in parallel. New joins fail with ErrShuttingDown.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	m.log.Info().Int("boards", len(rooms)).Msg("Draining boards")

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range rooms {
		r := r
		g.Go(func() error {
			return r.close(gctx)
		})
	}
	err := g.Wait()

	m.autosave.Stop()
	return err
}
