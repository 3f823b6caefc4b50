package models

import "time"

// UploadRecord stores metadata about each recording pushed to the blob store.
type UploadRecord struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	StudentID    string    `gorm:"size:64;index" json:"student_id"`
	AssignmentID string    `gorm:"size:64;index" json:"assignment_id"`
	QuestionID   string    `gorm:"size:64" json:"question_id"`
	Path         string    `gorm:"size:512;not null" json:"path"`
	URL          string    `gorm:"size:1024;not null" json:"url"`
	MimeType     string    `gorm:"size:128;not null" json:"mime_type"`
	SniffedType  string    `gorm:"size:128" json:"sniffed_type"`
	SizeBytes    int64     `gorm:"not null" json:"size_bytes"`
	Checksum     string    `gorm:"size:128;index" json:"checksum"`
	CreatedAt    time.Time `json:"created_at"`
}
