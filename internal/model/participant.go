package model

import "time"

// CursorState 참가자 커서 위치 (저장되지 않음)
type CursorState struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	DisplayName string  `json:"displayName"`
}

// Participant 보드에 연결된 참가자 (회원 또는 게스트)
type Participant struct {
	ID          string       `json:"participantId"`
	DisplayName string       `json:"displayName"`
	UserID      *int64       `json:"userId,omitempty"` // 비회원 허용
	Cursor      *CursorState `json:"cursor,omitempty"`
	JoinedAt    time.Time    `json:"joinedAt"`
}

// GuestName 표시 이름이 없는 게스트용 이름
func GuestName(connID string) string {
	if len(connID) > 5 {
		connID = connID[:5]
	}
	return "User_" + connID
}
