package model

import (
	"time"
)

const (
	ContentTypeText  = "text"
	ContentTypeImage = "image"
	ContentTypeVideo = "video"
	ContentTypeFile  = "file"
)

type Secret struct {
	ID             string     `db:"id" json:"id"`
	ContentType    string     `db:"content_type" json:"content_type"`
	Content        *string    `db:"content" json:"content,omitempty"`     // Text secrets only
	FilePath       *string    `db:"file_path" json:"file_path,omitempty"` // Storage key of the backing file
	FileName       *string    `db:"file_name" json:"file_name,omitempty"` // Client-supplied file name
	MimeType       *string    `db:"mime_type" json:"mime_type,omitempty"`
	FileSize       int64      `db:"file_size" json:"file_size"`
	PasswordHash   *string    `db:"password_hash" json:"password_hash,omitempty"` // bcrypt
	FailedAttempts int        `db:"failed_attempts" json:"failed_attempts"`
	ExpiryTime     *time.Time `db:"expiry_time" json:"expiry_time,omitempty"`
	ViewCount      int        `db:"view_count" json:"view_count"`
	MaxViews       int        `db:"max_views" json:"max_views"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

func IsValidContentType(ct string) bool {
	switch ct {
	case ContentTypeText, ContentTypeImage, ContentTypeVideo, ContentTypeFile:
		return true
	}
	return false
}

func (s *Secret) HasPassword() bool {
	return s.PasswordHash != nil && *s.PasswordHash != ""
}

func (s *Secret) HasFile() bool {
	return s.FilePath != nil && *s.FilePath != ""
}

func (s *Secret) IsExpired(now time.Time) bool {
	return s.ExpiryTime != nil && !now.Before(*s.ExpiryTime)
}

func (s *Secret) IsExhausted() bool {
	return s.ViewCount >= s.MaxViews
}

// IsAvailable reports whether a retrieval at now may still be granted.
func (s *Secret) IsAvailable(now time.Time) bool {
	return !s.IsExhausted() && !s.IsExpired(now)
}

func (s *Secret) RemainingViews() int {
	if s.ViewCount >= s.MaxViews {
		return 0
	}
	return s.MaxViews - s.ViewCount
}
