package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/hub"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/protocol"
	"whiteboard-backend/internal/session"
)

// MaxDisplayNameRunes 게스트 표시 이름 최대 길이
const MaxDisplayNameRunes = 50

// joinTimeout bounds waiting for a board that another connection is loading.
const joinTimeout = 30 * time.Second

// Identity 연결한 사용자 정보 (JWT 가 없으면 게스트)
type Identity struct {
	UserID      *int64
	DisplayName string
}

// BoardWSHandler 화이트보드 WebSocket 핸들러
type BoardWSHandler struct {
	manager *hub.Manager
	cfg     config.WebSocketConfig
	log     zerolog.Logger
}

// NewBoardWSHandler BoardWSHandler 생성
func NewBoardWSHandler(manager *hub.Manager, cfg config.WebSocketConfig, log zerolog.Logger) *BoardWSHandler {
	return &BoardWSHandler{
		manager: manager,
		cfg:     cfg,
		log:     log.With().Str("component", "board-ws").Logger(),
	}
}

// HandleWebSocket WebSocket 연결 처리
func (h *BoardWSHandler) HandleWebSocket(c *websocket.Conn) {
	ident := Identity{DisplayName: c.Query("name")}
	if userID, ok := c.Locals(auth.LocalUserID).(int64); ok {
		ident.UserID = &userID
		if name, _ := c.Locals(auth.LocalDisplayName).(string); name != "" {
			ident.DisplayName = name
		}
	}
	h.Serve(c, ident)
}

// Serve 연결 하나의 읽기 루프. 연결이 끊길 때까지 블로킹.
func (h *BoardWSHandler) Serve(conn session.Conn, ident Identity) {
	sess := session.New(conn, h.cfg, h.log)
	log := h.log.With().Str("session", sess.ID()).Logger()

	p := model.Participant{
		ID:          sess.ID(),
		DisplayName: displayName(ident.DisplayName, sess.ID()),
		UserID:      ident.UserID,
	}
	sess.SetParticipant(p)

	client := &boardClient{h: h, sess: sess, log: log}

	// 패닉 복구 - 서버 크래시 방지
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Board websocket panic recovered")
		}
		client.leave()
		_ = sess.Close()

		sent, dropped := sess.GetStats()
		log.Info().
			Dur("duration", sess.Duration().Round(time.Second)).
			Uint64("sent", sent).
			Uint64("dropped", dropped).
			Msg("Connection closed")
	}()

	go sess.WritePump()

	log.Info().Str("name", p.DisplayName).Bool("authenticated", p.UserID != nil).Msg("New board connection")

	if err := sess.PrepareRead(); err != nil {
		log.Warn().Err(err).Msg("Failed to prepare read")
		return
	}

	for {
		data, err := sess.Read()
		if err != nil {
			if errors.Is(err, session.ErrBinaryNotValid) {
				client.sendError(err)
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("Read failed")
			}
			return
		}
		client.dispatch(data)
	}
}

func displayName(name, connID string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.GuestName(connID)
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameRunes {
		name = string([]rune(name)[:MaxDisplayNameRunes])
	}
	return name
}

// boardClient is the per-connection dispatch state. It is only touched by the
// connection's read goroutine.
type boardClient struct {
	h    *BoardWSHandler
	sess *session.Session
	log  zerolog.Logger
	room *hub.Room
}

func (c *boardClient) dispatch(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		c.sendError(err)
		return
	}

	switch env.Type {
	case protocol.Ping:
		c.send(protocol.Pong, nil)
	case protocol.CreateBoard:
		c.createBoard(env)
	case protocol.JoinBoard:
		c.joinBoard(env)
	case protocol.LeaveBoard:
		c.leave()
	default:
		c.roomEvent(env)
	}
}

func (c *boardClient) createBoard(env protocol.Envelope) {
	var payload protocol.CreateBoardPayload
	if err := env.Bind(&payload); err != nil {
		c.sendError(err)
		return
	}

	p := c.sess.Participant()
	req := hub.CreateBoardRequest{
		Title:     payload.Title,
		IsPublic:  true,
		CreatedBy: p.UserID,
	}
	if payload.IsPublic != nil {
		req.IsPublic = *payload.IsPublic
	}

	c.leave()

	ctx, cancel := context.WithTimeout(c.sess.Context(), joinTimeout)
	defer cancel()

	room, err := c.h.manager.Create(ctx, req, c.sess, p)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to create board")
		c.sendError(&hub.ProtocolError{Event: protocol.CreateBoard, Err: errors.New("failed to create board")})
		return
	}
	c.attach(room)
}

func (c *boardClient) joinBoard(env protocol.Envelope) {
	var payload protocol.JoinBoardPayload
	if err := env.Bind(&payload); err != nil {
		c.sendError(err)
		return
	}
	id := model.BoardID(strings.TrimSpace(string(payload.BoardID)))
	if id == "" {
		c.sendError(&hub.ProtocolError{Event: protocol.JoinBoard, Err: hub.ErrMissingBoardID})
		return
	}

	// 같은 보드 재참가는 상태만 다시 받는다
	if c.room != nil && c.room.ID() != id {
		c.leave()
	}

	ctx, cancel := context.WithTimeout(c.sess.Context(), joinTimeout)
	defer cancel()

	room, err := c.h.manager.Join(ctx, id, c.sess, c.sess.Participant())
	if err != nil {
		c.log.Warn().Err(err).Str("board", string(id)).Msg("Failed to join board")
		c.sendError(err)
		return
	}
	c.attach(room)
}

func (c *boardClient) attach(room *hub.Room) {
	c.room = room
	c.sess.SetBoard(room.ID())
}

func (c *boardClient) leave() {
	if c.room == nil {
		return
	}
	if err := c.room.Leave(c.sess.ID()); err != nil && !errors.Is(err, hub.ErrRoomClosed) {
		c.log.Warn().Err(err).Msg("Failed to leave board")
	}
	c.room = nil
	c.sess.SetBoard("")
}

func (c *boardClient) roomEvent(env protocol.Envelope) {
	if c.room == nil {
		c.sendError(&hub.ProtocolError{Event: env.Type, Err: hub.ErrNotJoined})
		return
	}

	err := c.forward(env)
	if errors.Is(err, hub.ErrRoomClosed) {
		c.room = nil
		c.sess.SetBoard("")
		err = &hub.ProtocolError{Event: env.Type, Err: hub.ErrNotJoined}
	}
	if err != nil {
		c.sendError(err)
	}
}

func (c *boardClient) forward(env protocol.Envelope) error {
	pid := c.sess.ID()

	switch env.Type {
	case protocol.ObjectAdded, protocol.ObjectModified:
		var payload protocol.ObjectPayload
		if err := env.Bind(&payload); err != nil {
			return err
		}
		if payload.Object == nil {
			return fmt.Errorf("%w: %s requires an object", protocol.ErrMalformed, env.Type)
		}
		if env.Type == protocol.ObjectAdded {
			return c.room.AddObject(pid, *payload.Object)
		}
		return c.room.ModifyObject(pid, *payload.Object)

	case protocol.ObjectRemoved:
		var payload protocol.ObjectRemovedPayload
		if err := env.Bind(&payload); err != nil {
			return err
		}
		return c.room.RemoveObject(pid, payload.ObjectID)

	case protocol.ClearBoard:
		return c.room.Clear(pid)

	case protocol.CursorMove:
		var payload protocol.CursorMovePayload
		if err := env.Bind(&payload); err != nil {
			return err
		}
		if payload.X == nil || payload.Y == nil {
			return fmt.Errorf("%w: cursor-move requires x and y", protocol.ErrMalformed)
		}
		return c.room.MoveCursor(pid, *payload.X, *payload.Y)

	case protocol.DrawStart, protocol.DrawMove, protocol.DrawEnd:
		var payload protocol.DrawPayload
		if err := env.Bind(&payload); err != nil {
			return err
		}
		return c.room.Draw(pid, drawPhase(env.Type), payload.Data, payload.Object)

	case protocol.SaveBoard:
		return c.room.Save(pid)
	}

	return fmt.Errorf("%w: %s", protocol.ErrUnknownEvent, env.Type)
}

func drawPhase(eventType string) string {
	switch eventType {
	case protocol.DrawStart:
		return hub.DrawPhaseStart
	case protocol.DrawMove:
		return hub.DrawPhaseMove
	default:
		return hub.DrawPhaseEnd
	}
}

func (c *boardClient) send(event string, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("Failed to encode message")
		return
	}
	if err := c.sess.Send(data); err != nil {
		c.log.Debug().Err(err).Str("event", event).Msg("Send failed")
	}
}

func (c *boardClient) sendError(err error) {
	c.send(protocol.Error, protocol.ErrorPayload{Message: err.Error()})
}
