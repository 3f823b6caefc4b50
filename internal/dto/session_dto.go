package dto

import "time"

// RecordingStateResponse is the per-question view of a session. Uploaded is derived from
// uploaded_url differing from url.
type RecordingStateResponse struct {
	QuestionIndex int       `json:"question_index"`
	URL           string    `json:"url"`
	UploadedURL   string    `json:"uploaded_url"`
	CreatedAt     time.Time `json:"created_at"`
	Uploaded      bool      `json:"uploaded"`
}

// SessionResponse is a snapshot of a student's recording session for one assignment.
type SessionResponse struct {
	AssignmentID string                   `json:"assignment_id"`
	SubmissionID string                   `json:"submission_id,omitempty"`
	Attempt      int                      `json:"attempt"`
	Status       string                   `json:"status,omitempty"`
	Resolved     bool                     `json:"resolved"`
	Recordings   []RecordingStateResponse `json:"recordings"`
	Uploading    []int                    `json:"uploading"`
	Errors       map[int]string           `json:"errors"`
	AllUploaded  bool                     `json:"all_uploaded"`
}
