package model

import "time"

// QueryLog is the persisted audit record of one answered query.
type QueryLog struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	QueryID            string    `gorm:"size:36;not null;uniqueIndex" json:"query_id"`
	ClientID           uint      `gorm:"index" json:"client_id"`
	Question           string    `gorm:"type:text;not null" json:"question"`
	Method             string    `gorm:"size:64;not null;index" json:"method"`
	Confidence         float64   `json:"confidence"`
	TotalSources       int       `json:"total_sources"`
	SourceFiles        string    `gorm:"type:text" json:"source_files"`
	FilterCategory     string    `gorm:"size:32" json:"filter_category"`
	EnhancementApplied bool      `json:"enhancement_applied"`
	ProcessingTimeMS   int64     `json:"processing_time_ms"`
	CreatedAt          time.Time `json:"created_at"`
}

// QueryEvent is published once per answered query and persisted as a QueryLog
// by the query log worker.
type QueryEvent struct {
	QueryID            string    `json:"query_id"`
	ClientID           uint      `json:"client_id"`
	Question           string    `json:"question"`
	Method             string    `json:"method"`
	Confidence         float64   `json:"confidence"`
	TotalSources       int       `json:"total_sources"`
	Sources            []string  `json:"sources"`
	FilterCategory     string    `json:"filter_category"`
	EnhancementApplied bool      `json:"enhancement_applied"`
	ProcessingTimeMS   int64     `json:"processing_time_ms"`
	CreatedAt          time.Time `json:"created_at"`
}
