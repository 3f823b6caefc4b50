package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-speaking-api/internal/audio"
	"github.com/noah-isme/gema-speaking-api/internal/dto"
	"github.com/noah-isme/gema-speaking-api/internal/models"
)

var (
	// ErrQuestionOutOfRange indicates the question index is not part of the assignment.
	ErrQuestionOutOfRange = errors.New("question index out of range")
	// ErrNoUpload indicates no upload was started for the question in this session.
	ErrNoUpload = errors.New("no upload in progress for question")
)

// RecordingState is the per-question view of a session. UploadedURL equal to URL means no durable
// upload has completed for the question yet.
type RecordingState struct {
	URL         string
	CreatedAt   time.Time
	UploadedURL string
}

// Uploaded reports whether a durable copy exists.
func (s RecordingState) Uploaded() bool {
	return s.UploadedURL != s.URL
}

// Saver uploads a recording and folds it into the student's submission.
type Saver interface {
	SaveRecording(ctx context.Context, blob *audio.Blob, assignmentID, questionID, studentID string) (string, error)
}

// URLTracker hands out ephemeral playback URLs for local blobs.
type URLTracker interface {
	Track(blob *audio.Blob) string
	Revoke(url string)
}

// Notifier delivers user-facing notices.
type Notifier interface {
	Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error)
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	AssignmentID string
	SubmissionID string
	Attempt      int
	Status       string
	Resolved     bool
	Recordings   map[int]RecordingState
	Uploading    []int
	Errors       map[int]string
}

// Session tracks one student's recordings for one assignment: what is playable, what is mid-upload
// and which uploads failed.
type Session struct {
	studentID  string
	assignment models.Assignment
	submission models.Submission

	saver         Saver
	tracker       URLTracker
	notifier      Notifier
	cache         *URLCache
	uploadTimeout time.Duration
	logger        zerolog.Logger
	now           func() time.Time

	mu         sync.Mutex
	recordings map[int]RecordingState
	uploads    map[int]chan struct{}
	errors     map[int]string
	resolved   chan struct{}
}

func (s *Session) AssignmentID() string { return s.assignment.ID }

func (s *Session) StudentID() string { return s.studentID }

// QuestionCount returns the number of questions in the assignment.
func (s *Session) QuestionCount() int { return len(s.assignment.Questions) }

// Wait blocks until every stored recording has been resolved or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.resolved:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) isResolved() bool {
	select {
	case <-s.resolved:
		return true
	default:
		return false
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		AssignmentID: s.assignment.ID,
		SubmissionID: s.submission.ID,
		Attempt:      s.submission.Attempt,
		Status:       s.submission.Status,
		Resolved:     s.isResolved(),
		Recordings:   make(map[int]RecordingState, len(s.recordings)),
		Uploading:    make([]int, 0, len(s.uploads)),
		Errors:       make(map[int]string, len(s.errors)),
	}
	for index, state := range s.recordings {
		snap.Recordings[index] = state
	}
	for index := range s.uploads {
		snap.Uploading = append(snap.Uploading, index)
	}
	sort.Ints(snap.Uploading)
	for index, msg := range s.errors {
		snap.Errors[index] = msg
	}
	return snap
}

// Recording returns the state for index.
func (s *Session) Recording(index int) (RecordingState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.recordings[index]
	return state, ok
}

// SaveRecording makes the blob playable at once and uploads it in the background. The returned
// state is the local one; AwaitUpload reports how the upload ended.
func (s *Session) SaveRecording(ctx context.Context, index int, blob *audio.Blob) (RecordingState, error) {
	if index < 0 || index >= len(s.assignment.Questions) {
		return RecordingState{}, fmt.Errorf("%w: %d", ErrQuestionOutOfRange, index)
	}
	questionID := s.assignment.Questions[index].ID

	url := s.tracker.Track(blob)
	state := RecordingState{URL: url, CreatedAt: s.now().UTC(), UploadedURL: url}
	done := make(chan struct{})

	s.mu.Lock()
	if previous, ok := s.recordings[index]; ok && previous.URL != url {
		s.tracker.Revoke(previous.URL)
	}
	s.recordings[index] = state
	s.uploads[index] = done
	delete(s.errors, index)
	s.mu.Unlock()

	s.notify(ctx, index, dto.NotificationSuccess, "Recording Saved!", "Your recording has been saved successfully.")

	uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.uploadTimeout)
	go func() {
		defer cancel()
		defer close(done)
		s.upload(uploadCtx, index, questionID, url, blob)
	}()

	return state, nil
}

func (s *Session) upload(ctx context.Context, index int, questionID, localURL string, blob *audio.Blob) {
	durable, err := s.saver.SaveRecording(ctx, blob, s.assignment.ID, questionID, s.studentID)

	s.mu.Lock()
	current, ok := s.recordings[index]
	stale := !ok || current.URL != localURL
	if !stale {
		delete(s.uploads, index)
		if err != nil {
			s.errors[index] = err.Error()
		} else {
			current.UploadedURL = durable
			s.recordings[index] = current
		}
	}
	s.mu.Unlock()

	if stale {
		s.logger.Debug().Int("question_index", index).Msg("upload finished for a replaced recording")
		return
	}

	if err != nil {
		s.logger.Warn().Err(err).Int("question_index", index).Msg("recording upload failed")
		s.notify(ctx, index, dto.NotificationError, "Upload Failed", "Recording saved locally but upload failed. Please try again before proceeding.")
		return
	}

	s.cache.Remove(CacheKey{StudentID: s.studentID, AssignmentID: s.assignment.ID, QuestionIndex: index})
	s.notify(ctx, index, dto.NotificationSuccess, "Upload Complete!", "Your recording has been uploaded to the cloud.")
}

// AwaitUpload blocks until the latest upload for index ends and returns its error, if any.
func (s *Session) AwaitUpload(ctx context.Context, index int) error {
	s.mu.Lock()
	done, ok := s.uploads[index]
	s.mu.Unlock()

	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, failed := s.errors[index]; failed {
		return errors.New(msg)
	}
	if _, exists := s.recordings[index]; !exists && !ok {
		return ErrNoUpload
	}
	return nil
}

// IsFullyUploaded reports whether index has a durable recording and nothing pending.
func (s *Session) IsFullyUploaded(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullyUploaded(index)
}

func (s *Session) fullyUploaded(index int) bool {
	if _, uploading := s.uploads[index]; uploading {
		return false
	}
	state, ok := s.recordings[index]
	return ok && state.Uploaded()
}

// AllUploaded reports whether the first total questions are durably stored.
func (s *Session) AllUploaded(total int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if total <= 0 {
		return false
	}
	for index := 0; index < total; index++ {
		if !s.fullyUploaded(index) {
			return false
		}
	}
	return true
}

// restore records a resolved stored recording unless the question was re-recorded meanwhile.
func (s *Session) restore(index int, state RecordingState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.recordings[index]; exists {
		return
	}
	s.recordings[index] = state
}

func (s *Session) notify(ctx context.Context, index int, kind, title, message string) {
	if s.notifier == nil {
		return
	}
	questionIndex := index
	if _, err := s.notifier.Publish(ctx, dto.NotificationCreateRequest{
		UserID:        s.studentID,
		Type:          kind,
		Title:         title,
		Message:       message,
		AssignmentID:  s.assignment.ID,
		QuestionIndex: &questionIndex,
	}); err != nil {
		s.logger.Warn().Err(err).Str("title", title).Msg("failed to publish recording notification")
	}
}
