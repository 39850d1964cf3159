package model

import (
	"time"
)

// Handoff is the single-use download reference issued when a file-backed
// secret is viewed. Final handoffs own the backing file: it is deleted once
// the handoff has been served or has expired.
type Handoff struct {
	ID          string    `db:"id" json:"id"`
	SecretID    string    `db:"secret_id" json:"secret_id"`
	ContentType string    `db:"content_type" json:"content_type"`
	FilePath    string    `db:"file_path" json:"file_path"`
	FileName    string    `db:"file_name" json:"file_name"`
	MimeType    string    `db:"mime_type" json:"mime_type"`
	FileSize    int64     `db:"file_size" json:"file_size"`
	Final       bool      `db:"final" json:"final"`
	ExpiresAt   time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

func (h *Handoff) IsExpired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}
