package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-speaking-api/internal/models"
	"github.com/noah-isme/gema-speaking-api/internal/observability"
	"github.com/noah-isme/gema-speaking-api/internal/repository"
)

var (
	// ErrSubmissionNotFound indicates the redo submission does not exist.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrForbidden indicates the redo submission belongs to someone else.
	ErrForbidden = errors.New("submission belongs to another student")
)

// SubmissionStore is the part of the submission repository reconciliation needs.
type SubmissionStore interface {
	Get(ctx context.Context, id string) (models.Submission, error)
	GetLatestTwo(ctx context.Context, assignmentID, studentID string) ([]models.Submission, error)
	GetPrevious(ctx context.Context, assignmentID, studentID string, attempt int) (models.Submission, error)
	Patch(ctx context.Context, id string, patch repository.SubmissionPatch) (models.Submission, error)
}

// URLSigner turns stored public URLs into time-limited playback URLs.
type URLSigner interface {
	ObjectPath(publicURL string) string
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// Config tunes reconciliation.
type Config struct {
	SignedURLTTL   time.Duration
	Concurrency    int
	ResolveTimeout time.Duration
	UploadTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.SignedURLTTL <= 0 {
		c.SignedURLTTL = time.Hour
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 30 * time.Second
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 2 * time.Minute
	}
	return c
}

// LoadRequest names the session to rebuild. RedoSubmissionID pins the target attempt.
type LoadRequest struct {
	AssignmentID     string
	StudentID        string
	Assignment       models.Assignment
	RedoSubmissionID string
}

// Reconciler rebuilds sessions from stored submissions.
type Reconciler struct {
	store    SubmissionStore
	signer   URLSigner
	guard    Guard
	cache    *URLCache
	saver    Saver
	tracker  URLTracker
	notifier Notifier
	cfg      Config
	logger   zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewReconciler wires a reconciler. notifier may be nil.
func NewReconciler(store SubmissionStore, signer URLSigner, guard Guard, cache *URLCache, saver Saver, tracker URLTracker, notifier Notifier, cfg Config, logger zerolog.Logger) *Reconciler {
	cfg = cfg.withDefaults()
	if guard == nil {
		guard = NewMemoryGuard()
	}
	if cache == nil {
		cache = NewURLCache(0, cfg.SignedURLTTL*9/10)
	}
	return &Reconciler{
		store:    store,
		signer:   signer,
		guard:    guard,
		cache:    cache,
		saver:    saver,
		tracker:  tracker,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "session_reconciler").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/gema-speaking-api/internal/session"),
		now:      time.Now,
	}
}

// Load resolves the target attempt, copies recordings forward when needed and returns a session
// whose stored recordings resolve in the background. Use Session.Wait to block on resolution.
func (r *Reconciler) Load(ctx context.Context, req LoadRequest) (*Session, error) {
	ctx, span := r.tracer.Start(ctx, "session.load", trace.WithAttributes(
		attribute.String("session.assignment_id", req.AssignmentID),
		attribute.Bool("session.redo", req.RedoSubmissionID != ""),
	))
	defer span.End()

	latest, previous, err := r.target(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "target lookup failed")
		return nil, err
	}

	sess := r.newSession(req)
	if latest == nil {
		close(sess.resolved)
		return sess, nil
	}

	questionIDs := req.Assignment.QuestionIDs()
	recordings, report := models.NormalizeRecordings(latest.Recordings, questionIDs)
	if report.NeedsNormalization() {
		r.logger.Debug().
			Str("submission_id", latest.ID).
			Int("legacy", report.Strings).
			Int("invalid", report.Invalid).
			Int("duplicates", report.Duplicates).
			Msg("stored recordings need normalization")
	}

	if len(recordings) == 0 {
		if copied, ok := r.copyForward(ctx, req.AssignmentID, latest, previous, questionIDs); ok {
			*latest = copied
			recordings, _ = models.NormalizeRecordings(copied.Recordings, questionIDs)
		}
	}

	sess.submission = *latest
	span.SetAttributes(
		attribute.Int("session.attempt", latest.Attempt),
		attribute.Int("session.recordings", len(recordings)),
	)

	resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ResolveTimeout)
	go func() {
		defer cancel()
		defer close(sess.resolved)
		r.resolve(resolveCtx, sess, *latest, recordings)
	}()

	return sess, nil
}

func (r *Reconciler) newSession(req LoadRequest) *Session {
	return &Session{
		studentID:     req.StudentID,
		assignment:    req.Assignment,
		saver:         r.saver,
		tracker:       r.tracker,
		notifier:      r.notifier,
		cache:         r.cache,
		uploadTimeout: r.cfg.UploadTimeout,
		logger:        r.logger.With().Str("assignment_id", req.AssignmentID).Str("student_id", req.StudentID).Logger(),
		now:           r.now,
		recordings:    make(map[int]RecordingState),
		uploads:       make(map[int]chan struct{}),
		errors:        make(map[int]string),
		resolved:      make(chan struct{}),
	}
}

// target returns the attempt to show and its predecessor. Both may be nil.
func (r *Reconciler) target(ctx context.Context, req LoadRequest) (*models.Submission, *models.Submission, error) {
	if req.RedoSubmissionID != "" {
		redo, err := r.store.Get(ctx, req.RedoSubmissionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, ErrSubmissionNotFound
			}
			return nil, nil, fmt.Errorf("load redo submission: %w", err)
		}
		if redo.StudentID != req.StudentID || redo.AssignmentID != req.AssignmentID {
			return nil, nil, ErrForbidden
		}

		previous, err := r.store.GetPrevious(ctx, req.AssignmentID, req.StudentID, redo.Attempt)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				r.logger.Warn().Err(err).Str("submission_id", redo.ID).Msg("failed to load previous attempt")
			}
			return &redo, nil, nil
		}
		return &redo, &previous, nil
	}

	submissions, err := r.store.GetLatestTwo(ctx, req.AssignmentID, req.StudentID)
	if err != nil {
		return nil, nil, fmt.Errorf("load submissions: %w", err)
	}
	switch len(submissions) {
	case 0:
		return nil, nil, nil
	case 1:
		return &submissions[0], nil, nil
	default:
		return &submissions[0], &submissions[1], nil
	}
}

// copyForward carries the previous attempt's recordings onto an empty in-progress attempt once.
func (r *Reconciler) copyForward(ctx context.Context, assignmentID string, latest, previous *models.Submission, questionIDs []string) (models.Submission, bool) {
	if latest.Status != models.SubmissionStatusInProgress || previous == nil {
		observability.CopyForward().WithLabelValues("not_needed").Inc()
		return models.Submission{}, false
	}

	marked, err := r.guard.Marked(ctx, assignmentID, latest.Attempt)
	if err != nil {
		r.logger.Warn().Err(err).Int("attempt", latest.Attempt).Msg("copy-forward guard unavailable, continuing")
	}
	if marked {
		observability.CopyForward().WithLabelValues("already_copied").Inc()
		return models.Submission{}, false
	}

	carried, _ := models.NormalizeRecordings(previous.Recordings, questionIDs)
	if len(carried) == 0 {
		observability.CopyForward().WithLabelValues("not_needed").Inc()
		return models.Submission{}, false
	}

	updated, err := r.store.Patch(ctx, latest.ID, repository.SubmissionPatch{Recordings: &carried})
	if err != nil {
		observability.CopyForward().WithLabelValues("failed").Inc()
		r.logger.Error().Err(err).Str("submission_id", latest.ID).Msg("copy-forward failed")
		return models.Submission{}, false
	}

	if err := r.guard.Mark(ctx, assignmentID, latest.Attempt); err != nil {
		r.logger.Warn().Err(err).Int("attempt", latest.Attempt).Msg("failed to set copy-forward marker")
	}

	observability.CopyForward().WithLabelValues("copied").Inc()
	r.logger.Info().
		Str("submission_id", latest.ID).
		Int("attempt", latest.Attempt).
		Int("from_attempt", previous.Attempt).
		Int("recordings", len(carried)).
		Msg("recordings copied forward")
	return updated, true
}

// resolve turns each stored recording into a playable URL. Questions resolve independently and
// a failed signature falls back to the stored URL.
func (r *Reconciler) resolve(ctx context.Context, sess *Session, submission models.Submission, recordings []models.RecordingData) {
	ctx, span := r.tracer.Start(ctx, "session.resolve", trace.WithAttributes(
		attribute.String("session.submission_id", submission.ID),
		attribute.Int("session.recordings", len(recordings)),
	))
	defer span.End()

	var group errgroup.Group
	group.SetLimit(r.cfg.Concurrency)

	for _, entry := range recordings {
		index := sess.assignment.QuestionIndex(entry.QuestionID)
		if index < 0 {
			r.logger.Warn().Str("question_id", entry.QuestionID).Str("submission_id", submission.ID).Msg("stored recording has no matching question")
			continue
		}
		stored := entry.AudioURL
		group.Go(func() error {
			url := r.playbackURL(ctx, CacheKey{StudentID: sess.studentID, AssignmentID: sess.assignment.ID, QuestionIndex: index}, stored)
			sess.restore(index, RecordingState{URL: url, CreatedAt: submission.SubmittedAt, UploadedURL: stored})
			return nil
		})
	}

	_ = group.Wait()
}

func (r *Reconciler) playbackURL(ctx context.Context, key CacheKey, stored string) string {
	if cached, ok := r.cache.Get(key, stored); ok {
		return cached
	}
	if r.signer == nil {
		return stored
	}

	signed, err := r.signer.SignedURL(ctx, r.signer.ObjectPath(stored), r.cfg.SignedURLTTL)
	if err != nil || signed == "" {
		r.logger.Warn().Err(err).Int("question_index", key.QuestionIndex).Msg("failed to sign recording url, using stored url")
		return stored
	}
	r.cache.Add(key, stored, signed)
	return signed
}
