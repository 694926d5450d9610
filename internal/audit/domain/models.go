package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// Entry records one committed change to a group.
type Entry struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	GroupID   snowflake.ID      `gorm:"not null;index:idx_group_activity_group" json:"group_id"`
	ActorType ActorType         `gorm:"type:text;not null" json:"actor_type"`
	ActorID   *string           `gorm:"type:text" json:"actor_id,omitempty"`
	Action    string            `gorm:"type:text;not null" json:"action"`
	SubjectID *string           `gorm:"type:text" json:"subject_id,omitempty"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
}

func (Entry) TableName() string { return "group_activity" }

type ListFilter struct {
	GroupID snowflake.ID
	Action  string
	AfterID snowflake.ID
	Limit   int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Entry, error)
}
