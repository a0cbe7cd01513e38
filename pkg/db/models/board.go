package models

import "time"

// Board is the authoritative board record. This service only reads it.
type Board struct {
	ID         int64      `gorm:"column:id;primaryKey"`
	CategoryID int64      `gorm:"column:category_id;not null;index"`
	AuthorID   int64      `gorm:"column:author_id;not null"`
	Title      string     `gorm:"column:title;not null"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;not null"`
	DeletedAt  *time.Time `gorm:"column:deleted_at;index"`
}

func (Board) TableName() string { return "boards" }

// Comment is the authoritative comment record. This service only reads it.
type Comment struct {
	ID        int64      `gorm:"column:id;primaryKey"`
	BoardID   int64      `gorm:"column:board_id;not null;index"`
	AuthorID  int64      `gorm:"column:author_id;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;not null"`
	DeletedAt *time.Time `gorm:"column:deleted_at;index"`
}

func (Comment) TableName() string { return "comments" }
