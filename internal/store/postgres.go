package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"whiteboard-backend/internal/database"
	"whiteboard-backend/internal/model"
)

// Postgres keeps snapshots in the board_state column of the boards table.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Load(ctx context.Context, id model.BoardID) (model.Snapshot, error) {
	var board model.Board
	err := p.db.WithContext(ctx).
		Select("board_state").
		Where("board_id = ?", string(id)).
		First(&board).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("load board %s: %w", id, err)
	}

	if board.BoardState == "" {
		return model.EmptySnapshot(), nil
	}
	return model.DecodeSnapshot([]byte(board.BoardState))
}

// Save upserts the snapshot. A board that was never created through
// CreateBoard gets a row with default metadata.
func (p *Postgres) Save(ctx context.Context, id model.BoardID, snap model.Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return err
	}

	now := time.Now()
	board := model.Board{
		BoardID:      string(id),
		Title:        model.DefaultBoardTitle,
		IsPublic:     true,
		BoardState:   string(data),
		LastModified: now,
	}

	err = p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "board_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"board_state", "last_modified", "updated_at"}),
	}).Create(&board).Error
	if err != nil {
		return fmt.Errorf("save board %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) CreateBoard(ctx context.Context, meta model.BoardMeta) error {
	data, err := model.EmptySnapshot().Encode()
	if err != nil {
		return err
	}

	board := model.Board{
		BoardID:      string(meta.BoardID),
		Title:        model.NormalizeTitle(meta.Title),
		CreatedBy:    meta.CreatedBy,
		IsPublic:     meta.IsPublic,
		BoardState:   string(data),
		LastModified: time.Now(),
	}
	if err := p.db.WithContext(ctx).Create(&board).Error; err != nil {
		return fmt.Errorf("create board %s: %w", meta.BoardID, err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return database.Ping(ctx, p.db)
}

func (p *Postgres) Close() error {
	return database.Close(p.db)
}
