package models

import (
	"time"

	"gorm.io/datatypes"
)

// AssignmentQuestion is one speaking prompt.
type AssignmentQuestion struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
}

// Assignment is a multi-part speaking assignment. Questions are ordered.
type Assignment struct {
	ID          string                                 `gorm:"primaryKey;size:64" json:"id"`
	Title       string                                 `gorm:"size:255;not null" json:"title"`
	Description string                                 `gorm:"type:text" json:"description"`
	Questions   datatypes.JSONSlice[AssignmentQuestion] `json:"questions"`
	DueDate     *time.Time                             `json:"due_date"`
	CreatedAt   time.Time                              `json:"created_at"`
	UpdatedAt   time.Time                              `json:"updated_at"`
}

// QuestionIDs returns the question ids in order.
func (a Assignment) QuestionIDs() []string {
	ids := make([]string, len(a.Questions))
	for i, q := range a.Questions {
		ids[i] = q.ID
	}
	return ids
}

// QuestionIndex returns the position of questionID or -1.
func (a Assignment) QuestionIndex(questionID string) int {
	for i, q := range a.Questions {
		if q.ID == questionID {
			return i
		}
	}
	return -1
}

// IsPastDue returns true when the assignment has a deadline that has passed.
func (a Assignment) IsPastDue(reference time.Time) bool {
	return a.DueDate != nil && reference.After(*a.DueDate)
}
