// Package protocol defines the JSON event envelope exchanged over the board
// websocket and the payload of every inbound and outbound event.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"whiteboard-backend/internal/model"
)

var (
	ErrMalformed    = errors.New("malformed message")
	ErrUnknownEvent = errors.New("unknown event type")
)

// Inbound events.
const (
	CreateBoard    = "create-board"
	JoinBoard      = "join-board"
	LeaveBoard     = "leave-board"
	ObjectAdded    = "object-added"
	ObjectModified = "object-modified"
	ObjectRemoved  = "object-removed"
	ClearBoard     = "clear-board"
	CursorMove     = "cursor-move"
	DrawStart      = "draw-start"
	DrawMove       = "draw-move"
	DrawEnd        = "draw-end"
	SaveBoard      = "save-board"
	Ping           = "ping"
)

// Outbound events.
const (
	BoardCreated         = "board-created"
	BoardJoined          = "board-joined"
	UserJoined           = "user-joined"
	UserLeft             = "user-left"
	RemoteObjectAdded    = "remote-object-added"
	RemoteObjectModified = "remote-object-modified"
	RemoteObjectRemoved  = "remote-object-removed"
	BoardCleared         = "board-cleared"
	CursorUpdate         = "cursor-update"
	RemoteDraw           = "remote-draw"
	BoardSaved           = "board-saved"
	Pong                 = "pong"
	Error                = "error"
)

var inbound = map[string]bool{
	CreateBoard:    true,
	JoinBoard:      true,
	LeaveBoard:     true,
	ObjectAdded:    true,
	ObjectModified: true,
	ObjectRemoved:  true,
	ClearBoard:     true,
	CursorMove:     true,
	DrawStart:      true,
	DrawMove:       true,
	DrawEnd:        true,
	SaveBoard:      true,
	Ping:           true,
}

// Legacy inbound names, accepted and rewritten to the canonical event.
var aliases = map[string]string{
	"add-object":    ObjectAdded,
	"modify-object": ObjectModified,
	"delete-object": ObjectRemoved,
	"erase":         ObjectRemoved,
}

// Envelope is the frame carried by every websocket text message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses an inbound frame and checks the event type.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if canonical, ok := aliases[env.Type]; ok {
		env.Type = canonical
	}
	if !inbound[env.Type] {
		return env, fmt.Errorf("%w: %s", ErrUnknownEvent, env.Type)
	}
	return env, nil
}

// Bind unmarshals the payload into v. An absent payload leaves v untouched.
func (e Envelope) Bind(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Type, err)
	}
	return nil
}

// Encode builds an outbound frame.
func Encode(eventType string, payload any) ([]byte, error) {
	msg := struct {
		Type    string `json:"type"`
		Payload any    `json:"payload,omitempty"`
	}{Type: eventType, Payload: payload}
	return json.Marshal(msg)
}

// Inbound payloads

type CreateBoardPayload struct {
	Title    string `json:"title,omitempty"`
	IsPublic *bool  `json:"isPublic,omitempty"`
}

type JoinBoardPayload struct {
	BoardID model.BoardID `json:"boardId"`
}

type ObjectPayload struct {
	Object *model.SceneObject `json:"object"`
}

type ObjectRemovedPayload struct {
	ObjectID model.ObjectID `json:"objectId"`
}

type CursorMovePayload struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// DrawPayload carries an in-progress stroke preview. Data is relayed untouched;
// Object is only meaningful on draw-end, where it commits the finished stroke.
type DrawPayload struct {
	Data   json.RawMessage    `json:"data,omitempty"`
	Object *model.SceneObject `json:"object,omitempty"`
}

// Outbound payloads

type BoardStatePayload struct {
	BoardID      model.BoardID       `json:"boardId"`
	Snapshot     model.Snapshot      `json:"snapshot"`
	Participants []model.Participant `json:"participants"`
	Count        int                 `json:"count"`
	Self         model.Participant   `json:"self"`
}

type RosterPayload struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Count         int    `json:"count"`
}

type RemoteObjectPayload struct {
	Object   model.SceneObject `json:"object"`
	SenderID string            `json:"senderId"`
}

type RemoteObjectRemovedPayload struct {
	ObjectID model.ObjectID `json:"objectId"`
	SenderID string         `json:"senderId"`
}

type BoardClearedPayload struct {
	SenderID string `json:"senderId"`
}

type CursorUpdatePayload struct {
	ParticipantID string  `json:"participantId"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	DisplayName   string  `json:"displayName"`
}

type RemoteDrawPayload struct {
	Phase    string          `json:"phase"`
	Data     json.RawMessage `json:"data,omitempty"`
	SenderID string          `json:"senderId"`
}

type BoardSavedPayload struct {
	BoardID model.BoardID `json:"boardId"`
	SavedAt time.Time     `json:"savedAt"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
