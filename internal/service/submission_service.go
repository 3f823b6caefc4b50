package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-speaking-api/internal/audio"
	"github.com/noah-isme/gema-speaking-api/internal/dto"
	"github.com/noah-isme/gema-speaking-api/internal/models"
	"github.com/noah-isme/gema-speaking-api/internal/observability"
	"github.com/noah-isme/gema-speaking-api/internal/repository"
	"github.com/noah-isme/gema-speaking-api/pkg/grading"
)

var (
	// ErrSubmissionNotFound indicates a submission could not be found.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrAssignmentNotFound indicates the assignment does not exist.
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrAssignmentPastDue blocks final submission after the deadline.
	ErrAssignmentPastDue = errors.New("assignment is past due")
	// ErrQuestionNotFound indicates the question id is not part of the assignment.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrSubmissionForbidden indicates the submission belongs to another student.
	ErrSubmissionForbidden = errors.New("submission belongs to another student")
	// ErrSubmissionAlreadySubmitted indicates the attempt was already sent for grading.
	ErrSubmissionAlreadySubmitted = errors.New("submission already submitted")
	// ErrSubmissionIncomplete indicates some questions have no durable recording.
	ErrSubmissionIncomplete = errors.New("every question needs an uploaded recording before submitting")
)

// Grader forwards finished submissions to the external grading API.
type Grader interface {
	Submit(ctx context.Context, req grading.Request) (grading.Response, error)
}

// SubmissionService folds uploaded recordings into attempts and finalises them for grading.
type SubmissionService interface {
	SaveRecording(ctx context.Context, blob *audio.Blob, assignmentID, questionID, studentID string) (string, error)
	FoldRecording(ctx context.Context, assignmentID, studentID, questionID, audioURL string) (models.Submission, error)
	Create(ctx context.Context, studentID string, payload dto.SubmissionCreateRequest) (dto.SubmissionResponse, error)
	Submit(ctx context.Context, id, studentID string) (dto.SubmissionResponse, error)
	Get(ctx context.Context, id string) (dto.SubmissionResponse, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]dto.SubmissionResponse, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	assignments repository.AssignmentRepository
	uploads     RecordingUploadService
	grader      Grader
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewSubmissionService constructs a SubmissionService instance. grader may be nil, in which case
// final submissions are stored without being forwarded.
func NewSubmissionService(subRepo repository.SubmissionRepository, assignmentRepo repository.AssignmentRepository, uploads RecordingUploadService, grader Grader, validate *validator.Validate, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		submissions: subRepo,
		assignments: assignmentRepo,
		uploads:     uploads,
		grader:      grader,
		validator:   validate,
		logger:      logger.With().Str("component", "submission_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-speaking-api/internal/service/submission"),
		now:         time.Now,
	}
}

// SaveRecording uploads the blob and records the durable URL on the student's current attempt.
func (s *submissionService) SaveRecording(ctx context.Context, blob *audio.Blob, assignmentID, questionID, studentID string) (string, error) {
	url, err := s.uploads.UploadAudio(ctx, blob, assignmentID, questionID, studentID)
	if err != nil {
		return "", err
	}
	if _, err := s.FoldRecording(ctx, assignmentID, studentID, questionID, url); err != nil {
		return "", fmt.Errorf("failed to update submission: %w", err)
	}
	return url, nil
}

func (s *submissionService) FoldRecording(ctx context.Context, assignmentID, studentID, questionID, audioURL string) (models.Submission, error) {
	ctx, span := s.tracer.Start(ctx, "submission.fold_recording", trace.WithAttributes(
		attribute.String("submission.assignment_id", assignmentID),
		attribute.String("submission.question_id", questionID),
	))
	defer span.End()

	latest, err := s.submissions.GetLatestTwo(ctx, assignmentID, studentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return models.Submission{}, err
	}

	if len(latest) == 0 {
		submission := models.Submission{
			AssignmentID: assignmentID,
			StudentID:    studentID,
			Status:       models.SubmissionStatusInProgress,
			Recordings:   models.EncodeRecordings([]models.RecordingData{{QuestionID: questionID, AudioURL: audioURL}}),
		}
		if err := s.submissions.Create(ctx, &submission); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "create failed")
			return models.Submission{}, err
		}
		s.logger.Info().Str("submission_id", submission.ID).Int("attempt", submission.Attempt).Msg("submission created from recording")
		return submission, nil
	}

	current := latest[0]
	status, err := s.submissions.UpdateRecording(ctx, current.ID, questionID, audioURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return models.Submission{}, err
	}

	if !models.StatusAtLeast(status, models.SubmissionStatusInProgress) {
		inProgress := models.SubmissionStatusInProgress
		return s.submissions.Patch(ctx, current.ID, repository.SubmissionPatch{Status: &inProgress})
	}
	return s.submissions.Get(ctx, current.ID)
}

func (s *submissionService) Create(ctx context.Context, studentID string, payload dto.SubmissionCreateRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	assignment, err := s.assignment(ctx, payload.AssignmentID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	status := payload.Status
	if status == "" {
		status = models.SubmissionStatusPending
	}
	if status == models.SubmissionStatusPending && assignment.IsPastDue(s.now()) {
		return dto.SubmissionResponse{}, ErrAssignmentPastDue
	}

	var recordings []models.RecordingData
	for _, item := range payload.Recordings {
		if assignment.QuestionIndex(item.QuestionID) < 0 {
			return dto.SubmissionResponse{}, fmt.Errorf("%w: %s", ErrQuestionNotFound, item.QuestionID)
		}
		recordings = models.UpsertRecording(recordings, item.QuestionID, item.AudioURL)
	}

	submission := models.Submission{
		AssignmentID: payload.AssignmentID,
		StudentID:    studentID,
		Status:       status,
		Recordings:   models.EncodeRecordings(recordings),
		SubmittedAt:  s.now().UTC(),
	}
	if err := s.submissions.Create(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.logger.Info().
		Str("submission_id", submission.ID).
		Str("assignment_id", submission.AssignmentID).
		Int("attempt", submission.Attempt).
		Str("status", submission.Status).
		Msg("submission created")

	if status == models.SubmissionStatusPending {
		s.dispatch(ctx, submission.ID, orderedURLs(assignment, recordings))
	}

	return dto.NewSubmissionResponse(submission), nil
}

// Submit finalises an attempt once every question has a durable recording.
func (s *submissionService) Submit(ctx context.Context, id, studentID string) (dto.SubmissionResponse, error) {
	submission, err := s.submissions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}
	if submission.StudentID != studentID {
		return dto.SubmissionResponse{}, ErrSubmissionForbidden
	}
	if models.StatusAtLeast(submission.Status, models.SubmissionStatusPending) {
		return dto.SubmissionResponse{}, ErrSubmissionAlreadySubmitted
	}

	assignment, err := s.assignment(ctx, submission.AssignmentID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if assignment.IsPastDue(s.now()) {
		return dto.SubmissionResponse{}, ErrAssignmentPastDue
	}

	recordings, _ := models.NormalizeRecordings(submission.Recordings, assignment.QuestionIDs())
	urls := orderedURLs(assignment, recordings)
	if len(urls) < len(assignment.Questions) {
		return dto.SubmissionResponse{}, ErrSubmissionIncomplete
	}

	pending := models.SubmissionStatusPending
	submittedAt := s.now().UTC()
	updated, err := s.submissions.Patch(ctx, id, repository.SubmissionPatch{
		Recordings:  &recordings,
		Status:      &pending,
		SubmittedAt: &submittedAt,
	})
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.dispatch(ctx, updated.ID, urls)
	return dto.NewSubmissionResponse(updated), nil
}

func (s *submissionService) Get(ctx context.Context, id string) (dto.SubmissionResponse, error) {
	submission, err := s.submissions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}
	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) ListByAssignment(ctx context.Context, assignmentID string) ([]dto.SubmissionResponse, error) {
	submissions, err := s.submissions.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	return dto.NewSubmissionResponseSlice(submissions), nil
}

func (s *submissionService) assignment(ctx context.Context, id string) (models.Assignment, error) {
	assignment, err := s.assignments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assignment{}, ErrAssignmentNotFound
		}
		return models.Assignment{}, err
	}
	return assignment, nil
}

// dispatch forwards the submission for grading. Failures leave the submission pending.
func (s *submissionService) dispatch(ctx context.Context, submissionID string, urls []string) {
	if s.grader == nil {
		observability.GradingDispatch().WithLabelValues("skipped").Inc()
		return
	}

	ctx, span := s.tracer.Start(ctx, "submission.grade", trace.WithAttributes(
		attribute.String("submission.id", submissionID),
		attribute.Int("submission.recordings", len(urls)),
	))
	defer span.End()

	resp, err := s.grader.Submit(ctx, grading.Request{AudioURLs: urls, SubmissionURL: submissionID})
	if err == nil && !resp.Success {
		err = grading.ErrRejected
	}
	if err != nil {
		observability.GradingDispatch().WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "grading failed")
		s.logger.Warn().Err(err).Str("submission_id", submissionID).Msg("grading dispatch failed")
		return
	}
	observability.GradingDispatch().WithLabelValues("success").Inc()
}

// orderedURLs lists recording URLs in question order, skipping unanswered questions.
func orderedURLs(assignment models.Assignment, recordings []models.RecordingData) []string {
	byQuestion := make(map[string]string, len(recordings))
	for _, entry := range recordings {
		byQuestion[entry.QuestionID] = entry.AudioURL
	}
	urls := make([]string, 0, len(assignment.Questions))
	for _, question := range assignment.Questions {
		if url, ok := byQuestion[question.ID]; ok {
			urls = append(urls, url)
		}
	}
	return urls
}
