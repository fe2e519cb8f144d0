package model

import (
	"time"
	"unicode/utf8"
)

// 보드 메타데이터 제한
const (
	DefaultBoardTitle  = "Untitled Board"
	MaxBoardTitleRunes = 100
)

// Board 화이트보드 (board_state 에 스냅샷 JSON 저장)
type Board struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BoardID      string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"board_id"`
	Title        string    `gorm:"type:varchar(100);not null" json:"title"`
	CreatedBy    *int64    `gorm:"index:idx_boards_created_by" json:"created_by,omitempty"` // 비회원 생성 허용
	IsPublic     bool      `gorm:"not null" json:"is_public"`
	BoardState   string    `gorm:"type:jsonb;not null" json:"board_state"`
	LastModified time.Time `json:"last_modified"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index:idx_boards_created_by" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Board) TableName() string {
	return "boards"
}

// BoardMeta create-board 시 기록하는 메타데이터
type BoardMeta struct {
	BoardID   BoardID
	Title     string
	CreatedBy *int64
	IsPublic  bool
}

// NormalizeTitle 제목 기본값 적용 및 길이 제한
func NormalizeTitle(title string) string {
	if title == "" {
		return DefaultBoardTitle
	}
	if utf8.RuneCountInString(title) <= MaxBoardTitleRunes {
		return title
	}
	runes := []rune(title)
	return string(runes[:MaxBoardTitleRunes])
}
