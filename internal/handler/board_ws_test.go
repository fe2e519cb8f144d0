package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/hub"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/protocol"
	"whiteboard-backend/internal/store"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// peer is an in-memory websocket client driving BoardWSHandler.Serve.
type peer struct {
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once
	done     chan struct{}

	mu     sync.Mutex
	frames []frame
}

func (p *peer) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-p.incoming:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, data, nil
	case <-p.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (p *peer) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	p.mu.Lock()
	p.frames = append(p.frames, f)
	p.mu.Unlock()
	return nil
}

func (p *peer) WriteControl(int, []byte, time.Time) error { return nil }
func (p *peer) SetReadDeadline(time.Time) error          { return nil }
func (p *peer) SetWriteDeadline(time.Time) error         { return nil }
func (p *peer) SetReadLimit(int64)                        {}
func (p *peer) SetPongHandler(func(string) error)         {}

func (p *peer) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *peer) send(t *testing.T, eventType string, payload any) {
	t.Helper()
	data, err := protocol.Encode(eventType, payload)
	require.NoError(t, err)
	p.incoming <- data
}

func (p *peer) sendRaw(data string) {
	p.incoming <- []byte(data)
}

func (p *peer) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, f := range p.frames {
		if f.Type == eventType {
			n++
		}
	}
	return n
}

// wait blocks until a frame of the given type has arrived and decodes the latest one.
func (p *peer) wait(t *testing.T, eventType string, v any) {
	t.Helper()
	require.Eventually(t, func() bool { return p.count(eventType) > 0 }, 2*time.Second, 5*time.Millisecond,
		"no %s frame", eventType)
	if v == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.frames) - 1; i >= 0; i-- {
		if p.frames[i].Type == eventType {
			require.NoError(t, json.Unmarshal(p.frames[i].Payload, v))
			return
		}
	}
}

func (p *peer) waitError(t *testing.T, n int) string {
	t.Helper()
	require.Eventually(t, func() bool { return p.count(protocol.Error) >= n }, 2*time.Second, 5*time.Millisecond)
	var payload protocol.ErrorPayload
	p.wait(t, protocol.Error, &payload)
	return payload.Message
}

func (p *peer) disconnect() {
	close(p.incoming)
	<-p.done
}

type fixture struct {
	handler *BoardWSHandler
	manager *hub.Manager
	store   *store.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	cfg := hub.DefaultConfig()
	cfg.AutosaveInterval = time.Hour
	m := hub.NewManager(mem, cfg, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	return &fixture{
		handler: NewBoardWSHandler(m, testWSConfig(), zerolog.Nop()),
		manager: m,
		store:   mem,
	}
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		WriteTimeout:  time.Second,
		PingInterval:  time.Hour,
		PongWait:      time.Minute,
		SendQueueSize: 64,
	}
}

func (f *fixture) connect(t *testing.T, ident Identity) *peer {
	t.Helper()
	p := &peer{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		f.handler.Serve(p, ident)
	}()
	t.Cleanup(func() {
		_ = p.Close()
		<-p.done
	})
	return p
}

func (f *fixture) join(t *testing.T, p *peer, board model.BoardID) protocol.BoardStatePayload {
	t.Helper()
	p.send(t, protocol.JoinBoard, protocol.JoinBoardPayload{BoardID: board})
	var state protocol.BoardStatePayload
	p.wait(t, protocol.BoardJoined, &state)
	return state
}

func TestPingPong(t *testing.T) {
	f := newFixture(t)
	p := f.connect(t, Identity{})

	p.sendRaw(`{"type":"ping"}`)
	p.wait(t, protocol.Pong, nil)
}

func TestEventBeforeJoinIsRejected(t *testing.T) {
	f := newFixture(t)
	p := f.connect(t, Identity{})

	p.send(t, protocol.ClearBoard, nil)
	assert.Equal(t, "clear-board: not joined to a board", p.waitError(t, 1))
}

func TestMalformedFramesKeepSessionOpen(t *testing.T) {
	f := newFixture(t)
	p := f.connect(t, Identity{})

	p.sendRaw(`{not json`)
	assert.Contains(t, p.waitError(t, 1), "malformed")

	p.sendRaw(`{"type":"teleport"}`)
	assert.Contains(t, p.waitError(t, 2), "unknown event type")

	p.sendRaw(`{"type":"ping"}`)
	p.wait(t, protocol.Pong, nil)
}

func TestJoinAndRelay(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, Identity{DisplayName: "Alice"})
	bob := f.connect(t, Identity{DisplayName: "Bob"})

	state := f.join(t, alice, "b1")
	assert.Equal(t, "Alice", state.Self.DisplayName)
	assert.Equal(t, 1, state.Count)

	state = f.join(t, bob, "b1")
	assert.Equal(t, 2, state.Count)
	require.Len(t, state.Participants, 1)
	assert.Equal(t, "Alice", state.Participants[0].DisplayName)

	var joined protocol.RosterPayload
	alice.wait(t, protocol.UserJoined, &joined)
	assert.Equal(t, "Bob", joined.DisplayName)

	obj := model.SceneObject{ID: "r1", Kind: model.KindRect, Rect: &model.RectShape{Width: 10, Height: 5}}
	alice.send(t, protocol.ObjectAdded, protocol.ObjectPayload{Object: &obj})

	var added protocol.RemoteObjectPayload
	bob.wait(t, protocol.RemoteObjectAdded, &added)
	assert.Equal(t, model.ObjectID("r1"), added.Object.ID)
	assert.Equal(t, alice.count(protocol.RemoteObjectAdded), 0)

	bob.send(t, protocol.CursorMove, map[string]float64{"x": 3, "y": 4})
	var cur protocol.CursorUpdatePayload
	alice.wait(t, protocol.CursorUpdate, &cur)
	assert.Equal(t, 3.0, cur.X)
	assert.Equal(t, "Bob", cur.DisplayName)
}

func TestLegacyObjectEventNames(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, Identity{DisplayName: "Alice"})
	bob := f.connect(t, Identity{DisplayName: "Bob"})
	f.join(t, alice, "b1")
	f.join(t, bob, "b1")

	obj := model.SceneObject{ID: "r1", Kind: model.KindRect, Rect: &model.RectShape{Width: 10, Height: 5}}
	alice.send(t, "add-object", protocol.ObjectPayload{Object: &obj})
	bob.wait(t, protocol.RemoteObjectAdded, nil)

	alice.send(t, "erase", protocol.ObjectRemovedPayload{ObjectID: "r1"})
	var removed protocol.RemoteObjectRemovedPayload
	bob.wait(t, protocol.RemoteObjectRemoved, &removed)
	assert.Equal(t, model.ObjectID("r1"), removed.ObjectID)
	assert.Equal(t, 0, alice.count(protocol.Error))
}

func TestInvalidPayloads(t *testing.T) {
	f := newFixture(t)
	p := f.connect(t, Identity{})
	f.join(t, p, "b1")

	p.send(t, protocol.ObjectAdded, map[string]any{})
	assert.Contains(t, p.waitError(t, 1), "requires an object")

	p.send(t, protocol.CursorMove, map[string]float64{"x": 1})
	assert.Contains(t, p.waitError(t, 2), "requires x and y")

	p.send(t, protocol.JoinBoard, map[string]string{"boardId": "  "})
	assert.Contains(t, p.waitError(t, 3), hub.ErrMissingBoardID.Error())
}

func TestCreateBoard(t *testing.T) {
	f := newFixture(t)
	uid := int64(5)
	owner := f.connect(t, Identity{UserID: &uid, DisplayName: "Owner"})

	owner.send(t, protocol.CreateBoard, map[string]any{"title": "Retro", "isPublic": false})
	var created protocol.BoardStatePayload
	owner.wait(t, protocol.BoardCreated, &created)
	require.Len(t, string(created.BoardID), hub.BoardIDLength)

	meta, ok := f.store.Meta(created.BoardID)
	require.True(t, ok)
	assert.Equal(t, "Retro", meta.Title)
	assert.False(t, meta.IsPublic)
	assert.Equal(t, &uid, meta.CreatedBy)

	guest := f.connect(t, Identity{})
	state := f.join(t, guest, created.BoardID)
	assert.Equal(t, 2, state.Count)
}

func TestSwitchingBoardsLeavesThePreviousOne(t *testing.T) {
	f := newFixture(t)
	p := f.connect(t, Identity{})

	f.join(t, p, "b1")
	require.Equal(t, 1, f.manager.ActiveBoards())

	p.send(t, protocol.JoinBoard, protocol.JoinBoardPayload{BoardID: "b2"})
	require.Eventually(t, func() bool {
		stats := f.manager.Stats()
		return len(stats.Boards) == 1 && stats.Boards[0].BoardID == "b2"
	}, 3*time.Second, 10*time.Millisecond)

	// rejoining the current board only resends the state
	p.send(t, protocol.JoinBoard, protocol.JoinBoardPayload{BoardID: "b2"})
	require.Eventually(t, func() bool { return p.count(protocol.BoardJoined) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.manager.Stats().ConnectedUsers)
}

func TestLeaveBoard(t *testing.T) {
	f := newFixture(t)
	p := f.connect(t, Identity{})
	f.join(t, p, "b1")

	p.send(t, protocol.LeaveBoard, nil)
	require.Eventually(t, func() bool { return f.manager.ActiveBoards() == 0 }, 3*time.Second, 10*time.Millisecond)

	p.send(t, protocol.SaveBoard, nil)
	assert.Equal(t, "save-board: not joined to a board", p.waitError(t, 1))
}

func TestDisconnectSavesBoard(t *testing.T) {
	f := newFixture(t)
	p := f.connect(t, Identity{})
	f.join(t, p, "b9")

	obj := model.SceneObject{ID: "c1", Kind: model.KindCircle, Circle: &model.CircleShape{Radius: 2}}
	p.send(t, protocol.ObjectAdded, protocol.ObjectPayload{Object: &obj})
	p.send(t, protocol.Ping, nil)
	p.wait(t, protocol.Pong, nil)

	p.disconnect()

	require.Eventually(t, func() bool { return f.manager.ActiveBoards() == 0 }, 3*time.Second, 10*time.Millisecond)
	snap, err := f.store.Load(context.Background(), "b9")
	require.NoError(t, err)
	require.Equal(t, 1, snap.Len())
	assert.Equal(t, model.ObjectID("c1"), snap.Objects[0].ID)
}

func TestSaveBoardReplies(t *testing.T) {
	f := newFixture(t)
	p := f.connect(t, Identity{})
	f.join(t, p, "b1")

	p.send(t, protocol.SaveBoard, nil)
	var saved protocol.BoardSavedPayload
	p.wait(t, protocol.BoardSaved, &saved)
	assert.Equal(t, model.BoardID("b1"), saved.BoardID)
}

func TestDrawEventsAreRelayed(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, Identity{})
	b := f.connect(t, Identity{})
	f.join(t, a, "b1")
	f.join(t, b, "b1")

	a.send(t, protocol.DrawStart, map[string]any{"data": map[string]int{"x": 1}})
	var draw protocol.RemoteDrawPayload
	b.wait(t, protocol.RemoteDraw, &draw)
	assert.Equal(t, hub.DrawPhaseStart, draw.Phase)
	assert.JSONEq(t, `{"x":1}`, string(draw.Data))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Alice", displayName("  Alice ", "abcdef"))
	assert.Equal(t, "User_abcde", displayName("", "abcdef-123"))

	long := make([]rune, MaxDisplayNameRunes+10)
	for i := range long {
		long[i] = '가'
	}
	assert.Len(t, []rune(displayName(string(long), "x")), MaxDisplayNameRunes)
}

func TestDrawPhase(t *testing.T) {
	assert.Equal(t, hub.DrawPhaseStart, drawPhase(protocol.DrawStart))
	assert.Equal(t, hub.DrawPhaseMove, drawPhase(protocol.DrawMove))
	assert.Equal(t, hub.DrawPhaseEnd, drawPhase(protocol.DrawEnd))
}
