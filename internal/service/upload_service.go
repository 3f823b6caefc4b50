package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-speaking-api/internal/audio"
	"github.com/noah-isme/gema-speaking-api/internal/auth"
	"github.com/noah-isme/gema-speaking-api/internal/models"
	"github.com/noah-isme/gema-speaking-api/internal/observability"
	"github.com/noah-isme/gema-speaking-api/internal/repository"
	"github.com/noah-isme/gema-speaking-api/pkg/storage"
)

var (
	// ErrUploadInvalidAudio indicates the blob failed container validation.
	ErrUploadInvalidAudio = errors.New("invalid audio file")
	// ErrUploadUnauthenticated indicates no signed-in user was present.
	ErrUploadUnauthenticated = errors.New("user must be authenticated to upload recordings")
	// ErrUploadStorage indicates the blob store rejected the upload.
	ErrUploadStorage = errors.New("failed to upload recording")
)

// UploadError carries the user-facing message for a failed upload. errors.Is matches its kind.
type UploadError struct {
	kind error
	msg  string
	err  error
}

func (e *UploadError) Error() string { return e.msg }

func (e *UploadError) Unwrap() []error {
	if e.err == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.err}
}

// RecordingUploadService pushes validated recordings to the blob store.
type RecordingUploadService interface {
	UploadAudio(ctx context.Context, blob *audio.Blob, assignmentID, questionID, studentID string) (string, error)
}

type recordingUploadService struct {
	validator *audio.Validator
	store     storage.Store
	sessions  auth.Provider
	records   repository.UploadRepository
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewRecordingUploadService constructs the upload orchestrator. records may be nil.
func NewRecordingUploadService(validator *audio.Validator, store storage.Store, sessions auth.Provider, records repository.UploadRepository, logger zerolog.Logger) RecordingUploadService {
	if sessions == nil {
		sessions = auth.ContextProvider{}
	}
	return &recordingUploadService{
		validator: validator,
		store:     store,
		sessions:  sessions,
		records:   records,
		logger:    logger.With().Str("component", "recording_upload_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-speaking-api/internal/service/upload"),
		now:       time.Now,
	}
}

func (s *recordingUploadService) UploadAudio(ctx context.Context, blob *audio.Blob, assignmentID, questionID, studentID string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "recording.upload")
	defer span.End()

	span.SetAttributes(
		attribute.String("recording.assignment_id", assignmentID),
		attribute.String("recording.question_id", questionID),
		attribute.Int64("recording.size_bytes", blob.Size()),
		attribute.String("recording.type", blob.Type()),
	)

	start := time.Now()
	defer func() {
		observability.UploadLatency().Observe(time.Since(start).Seconds())
	}()

	result := s.validator.Validate(blob)
	if !result.Valid {
		observability.AudioRejected().WithLabelValues(observability.RejectionReason(result.Error)).Inc()
		err := &UploadError{kind: ErrUploadInvalidAudio, msg: "Invalid audio file: " + result.Error, err: result.Err()}
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return "", err
	}

	if _, ok := s.sessions.Session(ctx); !ok {
		err := &UploadError{kind: ErrUploadUnauthenticated, msg: "User must be authenticated to upload recordings", err: auth.ErrUnauthenticated}
		span.RecordError(err)
		span.SetStatus(codes.Error, "unauthenticated")
		return "", err
	}

	extension, known := audio.LookupExtension(blob.Type())
	if !known {
		s.logger.Warn().Str("mime_type", blob.Type()).Str("extension", extension).Msg("unknown recording type, using default extension")
	}

	filename := fmt.Sprintf("%s_%s_%s_%d.%s",
		sanitizeSegment(studentID), sanitizeSegment(assignmentID), sanitizeSegment(questionID),
		s.now().UnixMilli(), extension)
	path := fmt.Sprintf("recordings/%s/%s/%s", sanitizeSegment(studentID), sanitizeSegment(assignmentID), filename)
	span.SetAttributes(attribute.String("recording.path", path))

	if err := s.store.Upload(ctx, path, blob.Bytes(), storage.UploadOptions{ContentType: blob.Type()}); err != nil {
		observability.RecordingUploads().WithLabelValues(extension, "error").Inc()
		uploadErr := &UploadError{kind: ErrUploadStorage, msg: "Failed to upload recording: " + err.Error(), err: err}
		span.RecordError(uploadErr)
		span.SetStatus(codes.Error, "storage failed")
		s.logger.Warn().Err(err).Str("path", path).Msg("recording upload failed")
		return "", uploadErr
	}

	url := s.store.PublicURL(path)
	s.persist(ctx, blob, url, path, assignmentID, questionID, studentID)

	observability.RecordingUploads().WithLabelValues(extension, "success").Inc()
	span.SetStatus(codes.Ok, "stored")
	s.logger.Info().Str("path", path).Int64("size", blob.Size()).Msg("recording uploaded")
	return url, nil
}

// persist records upload metadata. The object is already durable, so failures only log.
func (s *recordingUploadService) persist(ctx context.Context, blob *audio.Blob, url, path, assignmentID, questionID, studentID string) {
	if s.records == nil {
		return
	}
	checksum := sha256.Sum256(blob.Bytes())
	record := models.UploadRecord{
		StudentID:    studentID,
		AssignmentID: assignmentID,
		QuestionID:   questionID,
		Path:         path,
		URL:          url,
		MimeType:     blob.Type(),
		SniffedType:  audio.Sniff(blob),
		SizeBytes:    blob.Size(),
		Checksum:     hex.EncodeToString(checksum[:]),
	}
	if err := s.records.Create(ctx, &record); err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("failed to store upload record")
	}
}

// sanitizeSegment keeps ids usable as a single path segment.
func sanitizeSegment(value string) string {
	value = strings.TrimSpace(value)
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, value)
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}
