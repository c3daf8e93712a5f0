package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Source string

const (
	SourceWebhook Source = "webhook"
	SourceSweeper Source = "sweeper"
	SourceRepair  Source = "repair"
)

// Transition is one recorded purchase status change or roster repair.
type Transition struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	PurchaseID snowflake.ID      `json:"purchase_id"`
	FromStatus string            `json:"from_status"`
	ToStatus   string            `json:"to_status"`
	Source     Source            `json:"source"`
	EventID    string            `json:"event_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (Transition) TableName() string { return "purchase_transitions" }

type RecordRequest struct {
	PurchaseID snowflake.ID
	FromStatus string
	ToStatus   string
	Source     Source
	EventID    string
	Metadata   map[string]any
}

type ListTransitionsRequest struct {
	pagination.Pagination
	PurchaseID snowflake.ID
}

type ListTransitionsResponse struct {
	pagination.PageInfo
	Transitions []Transition `json:"transitions"`
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	PurchaseID snowflake.ID
	Cursor     *Cursor
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Transition) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Transition, error)
}

// Service records transitions. Record takes the caller's transaction handle
// so the row commits or rolls back with the transition it describes.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, req RecordRequest) error
	List(ctx context.Context, req ListTransitionsRequest) (ListTransitionsResponse, error)
}

var (
	ErrInvalidPurchase  = errors.New("invalid_purchase")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidSource    = errors.New("invalid_source")
)
