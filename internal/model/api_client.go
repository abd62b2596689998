package model

import "time"

// APIClient is a machine client allowed to call the query API.
type APIClient struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"size:64;not null;uniqueIndex" json:"name"`
	SecretHash string    `gorm:"size:255;not null" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
