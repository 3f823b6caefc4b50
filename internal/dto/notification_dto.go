package dto

import "time"

// Notification kinds.
const (
	NotificationSuccess = "success"
	NotificationError   = "error"
)

// NotificationCreateRequest describes a recording notification for one user.
type NotificationCreateRequest struct {
	UserID        string `json:"user_id" validate:"required,max=64"`
	Type          string `json:"type" validate:"required,oneof=success error"`
	Title         string `json:"title" validate:"required,max=128"`
	Message       string `json:"message" validate:"required,max=1024"`
	AssignmentID  string `json:"assignment_id" validate:"omitempty,max=64"`
	QuestionIndex *int   `json:"question_index" validate:"omitempty,gte=0"`
}

// NotificationResponse is pushed to stream subscribers.
type NotificationResponse struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Type          string    `json:"type"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	AssignmentID  string    `json:"assignment_id,omitempty"`
	QuestionIndex *int      `json:"question_index,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
