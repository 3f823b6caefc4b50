package dto

import (
	"time"

	"github.com/noah-isme/gema-speaking-api/internal/models"
)

// SubmissionCreateRequest creates an attempt. Status in_progress opens a fresh attempt for a redo;
// pending submits the given recordings for grading straight away.
type SubmissionCreateRequest struct {
	AssignmentID string                 `json:"assignment_id" validate:"required,max=64"`
	Status       string                 `json:"status" validate:"omitempty,oneof=in_progress pending"`
	Recordings   []RecordingDataPayload `json:"recordings" validate:"omitempty,dive"`
}

// RecordingDataPayload is a client-supplied recording entry.
type RecordingDataPayload struct {
	QuestionID string `json:"questionId" validate:"required,max=64"`
	AudioURL   string `json:"audioUrl" validate:"required,url"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID           string                 `json:"id"`
	AssignmentID string                 `json:"assignment_id"`
	StudentID    string                 `json:"student_id"`
	Attempt      int                    `json:"attempt"`
	Status       string                 `json:"status"`
	Recordings   []models.RecordingData `json:"recordings"`
	SubmittedAt  time.Time              `json:"submitted_at"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// NewSubmissionResponse converts a Submission model into a DTO. Recordings are normalised
// without question ids, so legacy entries surface with positional card ids.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	recordings, _ := models.NormalizeRecordings(model.Recordings, nil)
	if recordings == nil {
		recordings = []models.RecordingData{}
	}
	return SubmissionResponse{
		ID:           model.ID,
		AssignmentID: model.AssignmentID,
		StudentID:    model.StudentID,
		Attempt:      model.Attempt,
		Status:       model.Status,
		Recordings:   recordings,
		SubmittedAt:  model.SubmittedAt,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
	}
}

// NewSubmissionResponseSlice converts a slice of submissions.
func NewSubmissionResponseSlice(items []models.Submission) []SubmissionResponse {
	out := make([]SubmissionResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewSubmissionResponse(item))
	}
	return out
}
