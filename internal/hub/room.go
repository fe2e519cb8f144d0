package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/protocol"
	"whiteboard-backend/internal/scene"
)

// State of a Room. Transitions: Cold -> Active -> Draining -> Destroyed, with
// Draining -> Active when a participant arrives before the room is released.
type State int32

const (
	StateCold State = iota
	StateActive
	StateDraining
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCold:
		return "cold"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Draw phases relayed as remote-draw.
const (
	DrawPhaseStart = "start"
	DrawPhaseMove  = "move"
	DrawPhaseEnd   = "end"
)

type command struct {
	fn   func()
	done chan struct{}
}

type member struct {
	conn    Connection
	info    model.Participant
	limiter *rate.Limiter

	// lossy relay state: the last cursor sent to others and the latest
	// stroke preview held back by the limiter, each flushed by one timer
	sentCursor  *model.CursorState
	cursorTimer *time.Timer
	pendingDraw json.RawMessage
	drawTimer   *time.Timer
}

func (m *member) stopTimers() {
	if m.cursorTimer != nil {
		m.cursorTimer.Stop()
		m.cursorTimer = nil
	}
	if m.drawTimer != nil {
		m.drawTimer.Stop()
		m.drawTimer = nil
	}
}

const finalSaveAttempts = 2

var errFinalSaveTimeout = errors.New("final save timed out")

type saveJob struct {
	snap    model.Snapshot
	version uint64
	onDone  []func(savedAt time.Time, err error)
}

// Room serves one board. Exported methods are safe for concurrent use; they
// enqueue commands for the room goroutine.
type Room struct {
	id  model.BoardID
	m   *Manager
	log zerolog.Logger

	ready chan struct{} // closed once the snapshot is loaded
	done  chan struct{} // closed when the room goroutine exits
	inbox chan command
	tick  chan struct{}
	saveQ chan *saveJob

	state        atomic.Int32
	users        atomic.Int32
	objects      atomic.Int32
	savedVersion atomic.Uint64

	mu      sync.Mutex
	pending int // join reservations taken by the manager

	// owned by the room goroutine
	scene    *scene.Store
	members  map[string]*member
	order    []string
	unloaded bool
	entry    cron.EntryID
}

func newRoom(m *Manager, id model.BoardID) *Room {
	return &Room{
		id:      id,
		m:       m,
		log:     m.log.With().Str("board", string(id)).Logger(),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		inbox:   make(chan command, m.cfg.InboxSize),
		tick:    make(chan struct{}, 1),
		saveQ:   make(chan *saveJob, 1),
		members: make(map[string]*member),
	}
}

// ID of the board served by this room.
func (r *Room) ID() model.BoardID {
	return r.id
}

// State is the current lifecycle state.
func (r *Room) State() State {
	return State(r.state.Load())
}

// UserCount is the number of attached participants.
func (r *Room) UserCount() int {
	return int(r.users.Load())
}

// ObjectCount is the number of objects in the scene.
func (r *Room) ObjectCount() int {
	return int(r.objects.Load())
}

// Done is closed after the room has been destroyed.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

func (r *Room) setState(s State) {
	r.state.Store(int32(s))
}

func (r *Room) start(st *scene.Store, unloaded bool) {
	r.scene = st
	r.unloaded = unloaded
	r.objects.Store(int32(st.Len()))
	r.setState(StateActive)
	r.scheduleAutosave()

	go r.saver()
	go r.run()
	close(r.ready)
}

func (r *Room) run() {
	defer close(r.done)

	for r.State() != StateDestroyed {
		select {
		case cmd := <-r.inbox:
			cmd.fn()
			if cmd.done != nil {
				close(cmd.done)
			}
		case <-r.tick:
			r.autosaveTick()
		}
	}
}

// post enqueues fn, blocking while the inbox is full.
func (r *Room) post(fn func()) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	default:
	}

	select {
	case r.inbox <- command{fn: fn}:
		return nil
	case <-r.done:
		return ErrRoomClosed
	}
}

// tryPost enqueues fn unless the inbox is full. Used for lossy events.
func (r *Room) tryPost(fn func()) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	case r.inbox <- command{fn: fn}:
		return nil
	default:
		return nil
	}
}

// do runs fn on the room goroutine and waits for it to finish.
func (r *Room) do(ctx context.Context, fn func()) error {
	cmd := command{fn: fn, done: make(chan struct{})}

	select {
	case r.inbox <- cmd:
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-cmd.done:
		return nil
	case <-r.done:
		// the command may have been the one that destroyed the room
		select {
		case <-cmd.done:
			return nil
		default:
			return ErrRoomClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) reserve() {
	r.mu.Lock()
	r.pending++
	r.mu.Unlock()
}

// unreserve drops a reservation that will not be followed by a join.
func (r *Room) unreserve() {
	r.mu.Lock()
	r.pending--
	r.mu.Unlock()
	_ = r.post(r.checkIdle)
}

func (r *Room) pendingJoins() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// =============================================================================
// Membership
// =============================================================================

// join consumes the caller's reservation and registers conn. The joining
// participant receives the full board state as its first message.
func (r *Room) join(conn Connection, p model.Participant, event string) error {
	return r.do(context.Background(), func() {
		r.mu.Lock()
		r.pending--
		r.mu.Unlock()
		r.addMember(conn, p, event)
	})
}

func (r *Room) addMember(conn Connection, p model.Participant, event string) {
	if existing, ok := r.members[p.ID]; ok {
		existing.conn = conn
		r.sendState(existing, event)
		return
	}

	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	p.Cursor = nil

	m := &member{
		conn:    conn,
		info:    p,
		limiter: rate.NewLimiter(r.m.cfg.CursorRate, r.m.cfg.CursorBurst),
	}
	r.members[p.ID] = m
	r.order = append(r.order, p.ID)
	r.users.Store(int32(len(r.members)))

	r.sendState(m, event)
	r.broadcast(p.ID, protocol.UserJoined, protocol.RosterPayload{
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
		Count:         len(r.members),
	}, false)
	r.notifyRoster()

	r.log.Info().Str("participant", p.ID).Int("count", len(r.members)).Msg("Participant joined")
}

func (r *Room) sendState(m *member, event string) {
	others := make([]model.Participant, 0, len(r.members))
	for _, id := range r.order {
		if id == m.info.ID {
			continue
		}
		others = append(others, r.members[id].participant())
	}

	r.sendTo(m, event, protocol.BoardStatePayload{
		BoardID:      r.id,
		Snapshot:     r.scene.ToSnapshot(),
		Participants: others,
		Count:        len(r.members),
		Self:         m.participant(),
	})
}

// Leave detaches the participant. The last leave drains the room.
func (r *Room) Leave(participantID string) error {
	return r.post(func() { r.removeMember(participantID) })
}

func (r *Room) removeMember(participantID string) {
	m, ok := r.members[participantID]
	if !ok {
		return
	}

	m.stopTimers()
	delete(r.members, participantID)
	for i, id := range r.order {
		if id == participantID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.users.Store(int32(len(r.members)))

	r.broadcast(participantID, protocol.UserLeft, protocol.RosterPayload{
		ParticipantID: participantID,
		DisplayName:   m.info.DisplayName,
		Count:         len(r.members),
	}, false)
	r.notifyRoster()

	r.log.Info().Str("participant", participantID).Int("count", len(r.members)).Msg("Participant left")

	if len(r.members) == 0 {
		r.drain(false)
	}
}

func (r *Room) checkIdle() {
	if len(r.members) == 0 && r.State() == StateActive {
		r.drain(false)
	}
}

// kickAll closes every connection and empties the room. Used on shutdown.
func (r *Room) kickAll() {
	for _, id := range r.order {
		m := r.members[id]
		m.stopTimers()
		_ = m.conn.Close()
	}
	r.members = make(map[string]*member)
	r.order = nil
	r.users.Store(0)
	r.notifyRoster()
}

func (r *Room) notifyRoster() {
	if r.m.observer == nil {
		return
	}
	roster := make([]model.Participant, 0, len(r.order))
	for _, id := range r.order {
		roster = append(roster, r.members[id].participant())
	}
	r.m.observer.RosterChanged(r.id, roster)
}

func (m *member) participant() model.Participant {
	p := m.info
	if p.Cursor != nil {
		c := *p.Cursor
		p.Cursor = &c
	}
	return p
}

// =============================================================================
// Scene mutations
// =============================================================================

// AddObject inserts or replaces an object and relays it to the other participants.
func (r *Room) AddObject(participantID string, obj model.SceneObject) error {
	return r.post(func() { r.addObject(participantID, protocol.ObjectAdded, obj) })
}

func (r *Room) addObject(participantID, event string, obj model.SceneObject) {
	m, ok := r.members[participantID]
	if !ok {
		return
	}

	obj, err := obj.Normalize()
	if err != nil {
		r.reject(m, event, fmt.Errorf("%w: %v", scene.ErrInvalidObject, err))
		return
	}
	if _, err := r.scene.Insert(obj); err != nil {
		r.reject(m, event, err)
		return
	}
	r.objects.Store(int32(r.scene.Len()))

	r.broadcast(participantID, protocol.RemoteObjectAdded, protocol.RemoteObjectPayload{
		Object:   obj,
		SenderID: participantID,
	}, false)
}

// ModifyObject replaces an existing object. Unknown ids are rejected.
func (r *Room) ModifyObject(participantID string, obj model.SceneObject) error {
	return r.post(func() { r.modifyObject(participantID, obj) })
}

func (r *Room) modifyObject(participantID string, obj model.SceneObject) {
	m, ok := r.members[participantID]
	if !ok {
		return
	}

	obj, err := obj.Normalize()
	if err != nil {
		r.reject(m, protocol.ObjectModified, fmt.Errorf("%w: %v", scene.ErrInvalidObject, err))
		return
	}
	found, err := r.scene.Update(obj)
	if err != nil {
		r.reject(m, protocol.ObjectModified, err)
		return
	}
	if !found {
		r.reject(m, protocol.ObjectModified, fmt.Errorf("%w: %s", ErrUnknownObject, obj.ID))
		return
	}

	r.broadcast(participantID, protocol.RemoteObjectModified, protocol.RemoteObjectPayload{
		Object:   obj,
		SenderID: participantID,
	}, false)
}

// RemoveObject deletes an object. Removing an unknown id is a no-op that is
// still relayed.
func (r *Room) RemoveObject(participantID string, id model.ObjectID) error {
	return r.post(func() { r.removeObject(participantID, id) })
}

func (r *Room) removeObject(participantID string, id model.ObjectID) {
	m, ok := r.members[participantID]
	if !ok {
		return
	}
	if id == "" {
		r.reject(m, protocol.ObjectRemoved, model.ErrMissingObjectID)
		return
	}

	if r.scene.Delete(id) {
		r.objects.Store(int32(r.scene.Len()))
	}

	r.broadcast(participantID, protocol.RemoteObjectRemoved, protocol.RemoteObjectRemovedPayload{
		ObjectID: id,
		SenderID: participantID,
	}, false)
}

// Clear removes every object.
func (r *Room) Clear(participantID string) error {
	return r.post(func() {
		if _, ok := r.members[participantID]; !ok {
			return
		}
		r.scene.Clear()
		r.objects.Store(0)
		r.broadcast(participantID, protocol.BoardCleared, protocol.BoardClearedPayload{
			SenderID: participantID,
		}, false)
		r.log.Info().Str("participant", participantID).Msg("Board cleared")
	})
}

// =============================================================================
// Ephemeral events
// =============================================================================

// MoveCursor records the participant's cursor and relays it. Updates beyond
// the per-participant rate are coalesced: the latest position is relayed once
// the limiter allows it again.
func (r *Room) MoveCursor(participantID string, x, y float64) error {
	return r.tryPost(func() {
		m, ok := r.members[participantID]
		if !ok {
			return
		}
		m.info.Cursor = &model.CursorState{X: x, Y: y, DisplayName: m.info.DisplayName}
		if m.cursorTimer != nil {
			return
		}
		if !m.limiter.Allow() {
			r.trail(m, &m.cursorTimer, r.flushCursor)
			return
		}
		r.relayCursor(m)
	})
}

func (r *Room) relayCursor(m *member) {
	c := *m.info.Cursor
	m.sentCursor = &c
	r.broadcast(m.info.ID, protocol.CursorUpdate, protocol.CursorUpdatePayload{
		ParticipantID: m.info.ID,
		X:             c.X,
		Y:             c.Y,
		DisplayName:   c.DisplayName,
	}, true)
}

func (r *Room) flushCursor(m *member) {
	if m.info.Cursor == nil || (m.sentCursor != nil && *m.sentCursor == *m.info.Cursor) {
		return
	}
	r.relayCursor(m)
}

// Draw relays an in-progress stroke preview. A finished stroke sent with the
// end phase is committed like AddObject. Move previews are coalesced like
// cursor updates.
func (r *Room) Draw(participantID, phase string, data json.RawMessage, obj *model.SceneObject) error {
	post := r.post
	if phase == DrawPhaseMove {
		post = r.tryPost
	}

	return post(func() {
		m, ok := r.members[participantID]
		if !ok {
			return
		}

		if phase == DrawPhaseMove {
			m.pendingDraw = data
			if m.drawTimer != nil {
				return
			}
			if !m.limiter.Allow() {
				r.trail(m, &m.drawTimer, r.flushDraw)
				return
			}
			r.flushDraw(m)
			return
		}

		// start and end supersede a held-back preview
		if m.drawTimer != nil {
			m.drawTimer.Stop()
			m.drawTimer = nil
		}
		m.pendingDraw = nil

		r.broadcast(participantID, protocol.RemoteDraw, protocol.RemoteDrawPayload{
			Phase:    phase,
			Data:     data,
			SenderID: participantID,
		}, false)

		if phase == DrawPhaseEnd && obj != nil {
			r.addObject(participantID, protocol.DrawEnd, *obj)
		}
	})
}

func (r *Room) flushDraw(m *member) {
	if m.pendingDraw == nil {
		return
	}
	data := m.pendingDraw
	m.pendingDraw = nil
	r.broadcast(m.info.ID, protocol.RemoteDraw, protocol.RemoteDrawPayload{
		Phase:    DrawPhaseMove,
		Data:     data,
		SenderID: m.info.ID,
	}, true)
}

// trail reserves the member's next limiter slot and runs flush on the room
// goroutine when it comes due. slot holds the timer until then.
func (r *Room) trail(m *member, slot **time.Timer, flush func(*member)) {
	res := m.limiter.Reserve()
	if !res.OK() {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(res.Delay(), func() {
		_ = r.post(func() {
			if r.members[m.info.ID] != m || *slot != t {
				return
			}
			*slot = nil
			flush(m)
		})
	})
	*slot = t
}

// =============================================================================
// Fan-out
// =============================================================================

// broadcast sends to every participant except the sender. A failed send of a
// lossy event is dropped; any other failed send closes that connection.
func (r *Room) broadcast(except, event string, payload any, lossy bool) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("Failed to encode message")
		return
	}

	for _, id := range r.order {
		if id == except {
			continue
		}
		m := r.members[id]
		if err := m.conn.Send(data); err != nil {
			if lossy {
				continue
			}
			r.log.Warn().Err(err).Str("participant", id).Str("event", event).Msg("Send failed, closing connection")
			_ = m.conn.Close()
		}
	}
}

func (r *Room) sendTo(m *member, event string, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("Failed to encode message")
		return
	}
	if err := m.conn.Send(data); err != nil {
		r.log.Warn().Err(err).Str("participant", m.info.ID).Str("event", event).Msg("Send failed, closing connection")
		_ = m.conn.Close()
	}
}

func (r *Room) reject(m *member, event string, err error) {
	perr := &ProtocolError{Event: event, Err: err}
	r.log.Debug().Err(err).Str("participant", m.info.ID).Str("event", event).Msg("Rejected event")
	r.sendTo(m, protocol.Error, protocol.ErrorPayload{Message: perr.Error()})
}

// =============================================================================
// Persistence
// =============================================================================

func (r *Room) scheduleAutosave() {
	id, err := r.m.autosave.Add(r.requestSave)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to schedule autosave")
		return
	}
	r.entry = id
}

// requestSave is the autosave tick. It never blocks.
func (r *Room) requestSave() {
	select {
	case r.tick <- struct{}{}:
	default:
	}
}

func (r *Room) autosaveTick() {
	if r.State() != StateActive {
		return
	}
	v := r.scene.Version()
	if v == r.savedVersion.Load() || (r.unloaded && v == 0) {
		return
	}
	r.enqueueSave(nil)
}

// enqueueSave hands a snapshot to the saver. A queued job that the saver has
// not picked up yet is replaced; its callbacks carry over.
func (r *Room) enqueueSave(cb func(time.Time, error)) {
	job := &saveJob{
		snap:    r.scene.ToSnapshot(),
		version: r.scene.Version(),
	}
	if cb != nil {
		job.onDone = append(job.onDone, cb)
	}

	select {
	case r.saveQ <- job:
		return
	default:
	}

	select {
	case old := <-r.saveQ:
		job.onDone = append(old.onDone, job.onDone...)
	default:
	}
	r.saveQ <- job
}

func (r *Room) saver() {
	for job := range r.saveQ {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), r.m.cfg.SaveTimeout)
		err := r.m.gw.Save(ctx, r.id, job.snap)
		cancel()

		if err != nil {
			r.log.Error().Err(err).Uint64("version", job.version).Msg("Snapshot save failed")
		} else {
			r.markSaved(job.version)
			r.log.Debug().
				Uint64("version", job.version).
				Int("objects", job.snap.Len()).
				Dur("took", time.Since(start)).
				Msg("Snapshot saved")
		}

		savedAt := time.Now()
		for _, fn := range job.onDone {
			fn(savedAt, err)
		}
	}
}

func (r *Room) markSaved(v uint64) {
	for {
		cur := r.savedVersion.Load()
		if v <= cur || r.savedVersion.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Save persists the board on request and reports the result to the requester.
func (r *Room) Save(participantID string) error {
	return r.post(func() {
		m, ok := r.members[participantID]
		if !ok {
			return
		}
		if r.unloaded && r.scene.Version() == 0 {
			r.reject(m, protocol.SaveBoard, ErrNothingToSave)
			return
		}

		conn := m.conn
		r.enqueueSave(func(savedAt time.Time, err error) {
			var (
				data   []byte
				encErr error
			)
			if err != nil {
				data, encErr = protocol.Encode(protocol.Error, protocol.ErrorPayload{Message: "failed to save board"})
			} else {
				data, encErr = protocol.Encode(protocol.BoardSaved, protocol.BoardSavedPayload{BoardID: r.id, SavedAt: savedAt})
			}
			if encErr == nil {
				_ = conn.Send(data)
			}
		})
	})
}

// ForceSave writes the current scene and waits for the result.
func (r *Room) ForceSave(ctx context.Context) error {
	result := make(chan error, 1)

	err := r.do(ctx, func() {
		if r.unloaded && r.scene.Version() == 0 {
			result <- ErrNothingToSave
			return
		}
		r.enqueueSave(func(_ time.Time, err error) { result <- err })
	})
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain runs on the room goroutine once the room is empty. It stops the
// autosave, writes a final snapshot and asks the manager to release the room.
// If a participant is about to join, the room returns to Active instead.
func (r *Room) drain(force bool) {
	r.setState(StateDraining)
	r.m.autosave.Remove(r.entry)
	r.entry = 0

	r.finalSave()

	if !r.m.release(r, force) {
		r.log.Info().Msg("Drain aborted, participant rejoining")
		r.setState(StateActive)
		r.scheduleAutosave()
		return
	}

	close(r.saveQ)
	r.log.Info().Uint64("version", r.scene.Version()).Msg("Room destroyed")
}

func (r *Room) finalSave() {
	if r.unloaded && r.scene.Version() == 0 {
		r.log.Warn().Msg("Skipping final save of a board that failed to load")
		return
	}

	var err error
	for attempt := 1; attempt <= finalSaveAttempts; attempt++ {
		if err = r.saveNow(); err == nil {
			r.log.Info().Int("objects", r.scene.Len()).Msg("Final snapshot saved")
			return
		}
		r.log.Warn().Err(err).Int("attempt", attempt).Msg("Final save failed")
	}

	r.log.Error().
		Err(err).
		Uint64("version", r.scene.Version()).
		Uint64("savedVersion", r.savedVersion.Load()).
		Int("objects", r.scene.Len()).
		Msg("Final save gave up, unsaved edits are lost")
}

// saveNow queues the current scene and waits for the saver's result.
func (r *Room) saveNow() error {
	result := make(chan error, 1)
	r.enqueueSave(func(_ time.Time, err error) { result <- err })

	// the saver bounds each save by SaveTimeout; one job may be ahead of ours
	timer := time.NewTimer(2*r.m.cfg.SaveTimeout + time.Second)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-timer.C:
		return errFinalSaveTimeout
	}
}

// close force-drains the room on shutdown.
func (r *Room) close(ctx context.Context) error {
	select {
	case <-r.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	err := r.do(ctx, func() {
		if r.State() == StateDestroyed {
			return
		}
		r.kickAll()
		r.drain(true)
	})
	if errors.Is(err, ErrRoomClosed) {
		return nil
	}
	if err != nil {
		return err
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
