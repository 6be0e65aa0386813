package database

import (
	"time"
)

// TranscodeJob is the persisted form of a job record. The in-memory store
// is authoritative while the process runs; rows exist so the catalog can
// show job history and so status survives restarts.
type TranscodeJob struct {
	ID           string `gorm:"primaryKey;type:varchar(64)"`
	SourcePath   string `gorm:"type:varchar(512);not null"`
	State        string `gorm:"type:varchar(16);not null;index"`
	Progress     int    `gorm:"not null;default:0"`
	ErrorMessage string `gorm:"type:varchar(1024)"`

	// Probe metadata, stored for catalog display.
	DurationSeconds float64
	Width           int
	Height          int
	FrameRate       float64
	Codec           string `gorm:"type:varchar(32)"`
	BitRate         int64

	ThumbnailPath string `gorm:"type:varchar(512)"`

	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`

	Resolutions []TranscodeResolution `gorm:"foreignKey:JobID"`
}

// TableName returns the table name for GORM
func (TranscodeJob) TableName() string {
	return "transcode_jobs"
}

// TranscodeResolution is one completed rung's artifact for a job.
type TranscodeResolution struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	JobID     string `gorm:"index;type:varchar(64);not null"`
	Label     string `gorm:"type:varchar(16);not null"`
	Width     int    `gorm:"not null"`
	Height    int    `gorm:"not null"`
	Path      string `gorm:"type:varchar(512);not null"`
	SizeBytes int64  `gorm:"not null"`
	CreatedAt time.Time
}

// TableName returns the table name for GORM
func (TranscodeResolution) TableName() string {
	return "transcode_resolutions"
}
