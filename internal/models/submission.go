package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Submission is one student's attempt at one speaking assignment.
type Submission struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	AssignmentID string         `gorm:"size:64;not null;uniqueIndex:idx_submission_attempt" json:"assignment_id"`
	StudentID    string         `gorm:"size:64;not null;uniqueIndex:idx_submission_attempt" json:"student_id"`
	Attempt      int            `gorm:"not null;uniqueIndex:idx_submission_attempt" json:"attempt"`
	Status       string         `gorm:"size:32;not null" json:"status"`
	Recordings   datatypes.JSON `json:"recordings"`
	SubmittedAt  time.Time      `json:"submitted_at"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

const (
	SubmissionStatusInProgress = "in_progress"
	SubmissionStatusPending    = "pending"
	SubmissionStatusGraded     = "graded"
	SubmissionStatusRejected   = "rejected"
)

// BeforeCreate assigns a UUID when the caller did not.
func (s *Submission) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.SubmittedAt.IsZero() {
		s.SubmittedAt = time.Now().UTC()
	}
	return nil
}

// IsGraded reports whether the grading collaborator has finished with the submission.
func (s Submission) IsGraded() bool {
	return s.Status == SubmissionStatusGraded || s.Status == SubmissionStatusRejected
}

// StatusAtLeast reports whether s has progressed to status or beyond. Unknown statuses rank lowest.
func StatusAtLeast(current, status string) bool {
	return statusRank(current) >= statusRank(status)
}

func statusRank(status string) int {
	switch status {
	case SubmissionStatusInProgress:
		return 1
	case SubmissionStatusPending:
		return 2
	case SubmissionStatusGraded, SubmissionStatusRejected:
		return 3
	default:
		return 0
	}
}

// RecordingData is the durable answer to one question.
type RecordingData struct {
	QuestionID string `json:"questionId"`
	AudioURL   string `json:"audioUrl"`
}

// FormatReport counts the shapes found in a stored recordings column.
type FormatReport struct {
	Total   int `json:"total"`
	Strings int `json:"string_format"`
	Objects int `json:"object_format"`
	Invalid    int `json:"invalid"`
	Duplicates int `json:"duplicates"`
}

// NeedsNormalization is true when legacy, unusable or duplicated entries are present.
func (r FormatReport) NeedsNormalization() bool {
	return r.Strings > 0 || r.Invalid > 0 || r.Duplicates > 0
}

// NormalizeRecordings coerces a stored recordings column into canonical entries. Bare strings are
// legacy URLs. Missing question ids resolve by position against questionIDs, then fall back to
// card-N. Entries without an audio URL are dropped.
//
// Each question id appears once in the result. A stored id outranks a positional one; otherwise
// the first entry wins.
func NormalizeRecordings(raw []byte, questionIDs []string) ([]RecordingData, FormatReport) {
	var report FormatReport
	if len(raw) == 0 {
		return nil, report
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, report
	}

	report.Total = len(items)
	out := make([]RecordingData, 0, len(items))
	explicit := make([]bool, 0, len(items))
	seen := make(map[string]int, len(items))
	keep := func(entry RecordingData, stored bool) {
		at, dup := seen[entry.QuestionID]
		if !dup {
			seen[entry.QuestionID] = len(out)
			out = append(out, entry)
			explicit = append(explicit, stored)
			return
		}
		report.Duplicates++
		if stored && !explicit[at] {
			out[at] = entry
			explicit[at] = true
		}
	}

	for index, item := range items {
		var url string
		if err := json.Unmarshal(item, &url); err == nil {
			url = strings.TrimSpace(url)
			if url == "" {
				report.Invalid++
				continue
			}
			report.Strings++
			keep(RecordingData{QuestionID: positionalID(index, questionIDs), AudioURL: url}, false)
			continue
		}

		var entry RecordingData
		if err := json.Unmarshal(item, &entry); err != nil || strings.TrimSpace(entry.AudioURL) == "" {
			report.Invalid++
			continue
		}
		report.Objects++
		stored := strings.TrimSpace(entry.QuestionID) != ""
		if !stored {
			entry.QuestionID = positionalID(index, questionIDs)
		}
		keep(entry, stored)
	}

	return out, report
}

func positionalID(index int, questionIDs []string) string {
	if index < len(questionIDs) && questionIDs[index] != "" {
		return questionIDs[index]
	}
	return "card-" + strconv.Itoa(index+1)
}

// EncodeRecordings serialises canonical entries for the recordings column.
func EncodeRecordings(recordings []RecordingData) datatypes.JSON {
	if recordings == nil {
		recordings = []RecordingData{}
	}
	payload, _ := json.Marshal(recordings)
	return datatypes.JSON(payload)
}

// UpsertRecording replaces the entry for questionID or appends a new one, keeping question ids unique.
func UpsertRecording(recordings []RecordingData, questionID, audioURL string) []RecordingData {
	out := make([]RecordingData, 0, len(recordings)+1)
	replaced := false
	for _, entry := range recordings {
		if entry.QuestionID == questionID {
			if replaced {
				continue
			}
			entry.AudioURL = audioURL
			replaced = true
		}
		out = append(out, entry)
	}
	if !replaced {
		out = append(out, RecordingData{QuestionID: questionID, AudioURL: audioURL})
	}
	return out
}
