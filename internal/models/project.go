package models

import "time"

// Project is an uploaded project. File holds the signed read URL returned
// by the upload; only Domain changes after creation.
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Domain      *string   `json:"domain"`
	File        string    `json:"file"`
	CreatedAt   time.Time `json:"created_at"`
}
