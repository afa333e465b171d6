package datastore

import (
	"time"

	"gorm.io/datatypes"
)

// RankedLabel is one entry of the stored top-k list.
type RankedLabel struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Treatment  string  `json:"treatment"`
}

// Scan is one persisted prediction. Rows are never updated.
type Scan struct {
	ID          uint      `gorm:"primaryKey"`
	CreatedAt   time.Time `gorm:"index;not null"`
	Crop        string    `gorm:"size:128"`
	Label       string    `gorm:"column:top_label;size:255;index"`
	Confidence  float64
	ImageBase64 string  `gorm:"type:longtext"`
	ImagePath   *string `gorm:"size:1024"`
	Geo         string  `gorm:"size:64"`
	Notes       string  `gorm:"type:text"`
	Treatment   string  `gorm:"type:text"`
	TopK        datatypes.JSONSlice[RankedLabel]
}

// TableName pins the table name across drivers.
func (Scan) TableName() string {
	return "scans"
}

// NewScan carries the fields a caller provides; the store assigns ID and CreatedAt.
type NewScan struct {
	Image      []byte
	ImagePath  string
	Crop       string
	Label      string
	Confidence float64
	Geo        string
	Notes      string
	Treatment  string
	TopK       []RankedLabel
}
