package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/protocol"
	"whiteboard-backend/internal/session"
)

// stuckSocket is a websocket whose peer stopped reading. A data write holds
// the write lock until Close; control frames wait for the lock until their
// deadline, as the websocket library does.
type stuckSocket struct {
	writeLock chan struct{}
	writing   chan struct{}
	release   chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

func newStuckSocket() *stuckSocket {
	return &stuckSocket{
		writeLock: make(chan struct{}, 1),
		writing:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (c *stuckSocket) ReadMessage() (int, []byte, error) {
	<-c.release
	return 0, nil, errors.New("use of closed connection")
}

func (c *stuckSocket) WriteMessage(int, []byte) error {
	c.writeLock <- struct{}{}
	defer func() { <-c.writeLock }()

	c.startOnce.Do(func() { close(c.writing) })
	<-c.release
	return errors.New("use of closed connection")
}

func (c *stuckSocket) WriteControl(_ int, _ []byte, deadline time.Time) error {
	select {
	case c.writeLock <- struct{}{}:
		<-c.writeLock
		return nil
	case <-time.After(time.Until(deadline)):
		return errors.New("write timeout")
	}
}

func (c *stuckSocket) SetReadDeadline(time.Time) error  { return nil }
func (c *stuckSocket) SetWriteDeadline(time.Time) error { return nil }
func (c *stuckSocket) SetReadLimit(int64)               {}
func (c *stuckSocket) SetPongHandler(func(string) error) {}

func (c *stuckSocket) Close() error {
	c.closeOnce.Do(func() { close(c.release) })
	return nil
}

func TestStuckReceiverDoesNotStallRoom(t *testing.T) {
	m := newTestManager(t, newGateway())
	r, _ := join(t, m, "b1", "p1")

	sock := newStuckSocket()
	slow := session.New(sock, config.WebSocketConfig{
		WriteTimeout:  time.Second,
		PingInterval:  time.Hour,
		SendQueueSize: 1,
	}, zerolog.Nop())
	go slow.WritePump()

	_, err := m.Join(context.Background(), "b1", slow, participant("slow"))
	require.NoError(t, err)
	<-sock.writing // board-joined is stuck in the socket

	_, fast := join(t, m, "b1", "p3") // user-joined fills the slow queue

	start := time.Now()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, r.AddObject("p1", rect(id)))
	}
	flush(t, r)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "room goroutine blocked by a slow receiver")
	assert.Equal(t, 4, fast.count(protocol.RemoteObjectAdded))

	assert.True(t, slow.IsClosed())
	select {
	case <-slow.Released():
	case <-time.After(3 * time.Second):
		t.Fatal("slow connection was not torn down")
	}
}

func coalescingManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AutosaveInterval = time.Hour
	cfg.CursorRate = 20
	cfg.CursorBurst = 1
	return newTestManagerWithConfig(t, newGateway(), cfg)
}

func TestCoalescedCursorConvergesToLatestPosition(t *testing.T) {
	m := coalescingManager(t)
	r, _ := join(t, m, "b1", "p1")
	_, c2 := join(t, m, "b1", "p2")

	for i := 0; i < 10; i++ {
		require.NoError(t, r.MoveCursor("p1", float64(i), float64(i)))
	}

	require.Eventually(t, func() bool {
		var cur protocol.CursorUpdatePayload
		if c2.count(protocol.CursorUpdate) == 0 {
			return false
		}
		c2.last(t, protocol.CursorUpdate, &cur)
		return cur.X == 9 && cur.Y == 9
	}, 2*time.Second, 10*time.Millisecond)

	sent := c2.count(protocol.CursorUpdate)
	assert.Less(t, sent, 10, "intermediate positions are coalesced")

	// nothing further once the latest position is out
	time.Sleep(150 * time.Millisecond)
	flush(t, r)
	assert.Equal(t, sent, c2.count(protocol.CursorUpdate))
}

func TestCoalescedDrawConvergesToLatestPreview(t *testing.T) {
	m := coalescingManager(t)
	r, _ := join(t, m, "b1", "p1")
	_, c2 := join(t, m, "b1", "p2")

	require.NoError(t, r.Draw("p1", DrawPhaseStart, json.RawMessage(`{"i":0}`), nil))
	for i := 1; i <= 5; i++ {
		data, err := json.Marshal(map[string]int{"i": i})
		require.NoError(t, err)
		require.NoError(t, r.Draw("p1", DrawPhaseMove, data, nil))
	}

	require.Eventually(t, func() bool {
		var d protocol.RemoteDrawPayload
		if c2.count(protocol.RemoteDraw) == 0 {
			return false
		}
		c2.last(t, protocol.RemoteDraw, &d)
		return d.Phase == DrawPhaseMove && string(d.Data) == `{"i":5}`
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDrawEndDropsHeldBackPreview(t *testing.T) {
	m := coalescingManager(t)
	r, _ := join(t, m, "b1", "p1")
	_, c2 := join(t, m, "b1", "p2")

	require.NoError(t, r.Draw("p1", DrawPhaseMove, json.RawMessage(`{"i":1}`), nil))
	require.NoError(t, r.Draw("p1", DrawPhaseMove, json.RawMessage(`{"i":2}`), nil))
	require.NoError(t, r.Draw("p1", DrawPhaseEnd, nil, nil))
	flush(t, r)

	time.Sleep(150 * time.Millisecond)
	flush(t, r)

	var d protocol.RemoteDrawPayload
	c2.last(t, protocol.RemoteDraw, &d)
	assert.Equal(t, DrawPhaseEnd, d.Phase)
	assert.Equal(t, 2, c2.count(protocol.RemoteDraw))
}

func TestFinalSaveIsRetriedOnce(t *testing.T) {
	gw := newGateway()
	gw.failN = 1
	m := newTestManager(t, gw)

	r, _ := join(t, m, "b1", "p1")
	require.NoError(t, r.AddObject("p1", rect("a")))
	require.NoError(t, r.Leave("p1"))
	waitDestroyed(t, r)

	assert.Equal(t, 2, gw.saveCount())
	snap, err := gw.Memory.Load(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, []model.ObjectID{"a"}, objectIDs(snap))
}

func TestFinalSaveGivesUpAfterRetry(t *testing.T) {
	gw := newGateway()
	gw.saveErr = errors.New("disk full")
	m := newTestManager(t, gw)

	r, _ := join(t, m, "b1", "p1")
	require.NoError(t, r.AddObject("p1", rect("a")))
	require.NoError(t, r.Leave("p1"))
	waitDestroyed(t, r)

	assert.Equal(t, finalSaveAttempts, gw.saveCount())
}
