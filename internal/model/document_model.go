package model

import (
	"time"

	"gorm.io/datatypes"
)

// Document is one row per stored document. Sub-collections are addressed by
// path prefix, so documents of every collection share this table.
type Document struct {
	Path       string         `gorm:"type:varchar(1024);primaryKey"`
	Collection string         `gorm:"type:varchar(1024);not null;index"`
	DocId      string         `gorm:"type:varchar(255);not null"`
	Data       datatypes.JSON `gorm:"not null"`
	CreateSeq  uint64         `gorm:"not null"`
	CreatedAt  time.Time      `gorm:"autoCreateTime"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime"`
}

func (Document) TableName() string {
	return "documents"
}

// DocumentCollection holds the per-collection write version. Every write locks
// this row, so writes to one collection are serialized.
type DocumentCollection struct {
	Path               string `gorm:"type:varchar(1024);primaryKey"`
	Version            uint64 `gorm:"not null;default:0"`
	LastTimestampNanos int64  `gorm:"not null;default:0"`
}

func (DocumentCollection) TableName() string {
	return "document_collections"
}
