package handler

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-speaking-api/internal/audio"
	"github.com/noah-isme/gema-speaking-api/internal/dto"
	"github.com/noah-isme/gema-speaking-api/internal/observability"
	"github.com/noah-isme/gema-speaking-api/internal/session"
	"github.com/noah-isme/gema-speaking-api/internal/utils"
)

const defaultSessionWait = 2 * time.Second

// SessionOpener returns live recording sessions.
type SessionOpener interface {
	Open(ctx context.Context, req session.OpenRequest) (*session.Session, error)
}

// SessionHandler serves recording session state and per-question saves.
type SessionHandler struct {
	sessions SessionOpener
	audio    *audio.Validator
	logger   zerolog.Logger
	maxWait  time.Duration
}

// NewSessionHandler constructs a session handler. maxWait caps how long a request may block on
// resolution or upload.
func NewSessionHandler(sessions SessionOpener, audioValidator *audio.Validator, maxWait time.Duration, logger zerolog.Logger) *SessionHandler {
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	return &SessionHandler{
		sessions: sessions,
		audio:    audioValidator,
		logger:   logger.With().Str("component", "session_handler").Logger(),
		maxWait:  maxWait,
	}
}

// Register binds the session routes under the assignments group.
func (h *SessionHandler) Register(router fiber.Router) {
	router.Get("/:assignmentId/session", h.show)
	router.Post("/:assignmentId/questions/:index/recording", h.saveRecording)
}

func (h *SessionHandler) show(c *fiber.Ctx) error {
	studentID := userIDStringFromContext(c)
	if studentID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	waitMs, err := parseQueryInt(c, "wait_ms")
	if err != nil || waitMs < 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid wait_ms")
	}
	wait := defaultSessionWait
	if c.Query("wait_ms") != "" {
		wait = time.Duration(waitMs) * time.Millisecond
	}

	ctx := requestContext(c)
	sess, err := h.sessions.Open(ctx, session.OpenRequest{
		StudentID:        studentID,
		AssignmentID:     c.Params("assignmentId"),
		RedoSubmissionID: strings.TrimSpace(c.Query("redo")),
		Refresh:          c.QueryBool("refresh", false),
	})
	if err != nil {
		return h.handleError(c, err)
	}

	if wait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, h.capWait(wait))
		// Partial resolution is a valid response.
		_ = sess.Wait(waitCtx)
		cancel()
	}

	return utils.SendSuccess(c, "recording session", newSessionResponse(sess))
}

func (h *SessionHandler) saveRecording(c *fiber.Ctx) error {
	studentID := userIDStringFromContext(c)
	if studentID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	index, err := strconv.Atoi(c.Params("index"))
	if err != nil || index < 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid question index")
	}

	blob, err := readAudio(c)
	if err != nil {
		if errors.Is(err, errAudioRequired) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		return utils.SendError(c, fiber.StatusBadRequest, "invalid audio payload")
	}

	if result := h.audio.Validate(blob); !result.Valid {
		observability.AudioRejected().WithLabelValues(observability.RejectionReason(result.Error)).Inc()
		return utils.Fail(c, fiber.StatusUnprocessableEntity, "Invalid audio file: "+result.Error, result)
	}

	ctx := requestContext(c)
	sess, err := h.sessions.Open(ctx, session.OpenRequest{StudentID: studentID, AssignmentID: c.Params("assignmentId")})
	if err != nil {
		return h.handleError(c, err)
	}

	if _, err := sess.SaveRecording(ctx, index, blob); err != nil {
		return h.handleError(c, err)
	}

	if c.QueryBool("wait", false) {
		waitCtx, cancel := context.WithTimeout(ctx, h.maxWait)
		uploadErr := sess.AwaitUpload(waitCtx, index)
		cancel()
		if uploadErr != nil && !errors.Is(uploadErr, context.DeadlineExceeded) {
			return utils.Fail(c, fiber.StatusBadGateway, uploadErr.Error(), newSessionResponse(sess))
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(utils.APIResponse{
		Success: true,
		Data:    newSessionResponse(sess),
		Message: "recording saved",
	})
}

func (h *SessionHandler) capWait(wait time.Duration) time.Duration {
	if wait > h.maxWait {
		return h.maxWait
	}
	return wait
}

func (h *SessionHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, session.ErrAssignmentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
	case errors.Is(err, session.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, session.ErrForbidden):
		return utils.SendError(c, fiber.StatusForbidden, "submission belongs to another student")
	case errors.Is(err, session.ErrQuestionOutOfRange):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("recording session failure")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func newSessionResponse(sess *session.Session) dto.SessionResponse {
	snap := sess.Snapshot()
	response := dto.SessionResponse{
		AssignmentID: snap.AssignmentID,
		SubmissionID: snap.SubmissionID,
		Attempt:      snap.Attempt,
		Status:       snap.Status,
		Resolved:     snap.Resolved,
		Recordings:   make([]dto.RecordingStateResponse, 0, len(snap.Recordings)),
		Uploading:    snap.Uploading,
		Errors:       snap.Errors,
		AllUploaded:  sess.AllUploaded(sess.QuestionCount()),
	}
	for index, state := range snap.Recordings {
		response.Recordings = append(response.Recordings, dto.RecordingStateResponse{
			QuestionIndex: index,
			URL:           state.URL,
			UploadedURL:   state.UploadedURL,
			CreatedAt:     state.CreatedAt,
			Uploaded:      state.Uploaded(),
		})
	}
	sort.Slice(response.Recordings, func(i, j int) bool {
		return response.Recordings[i].QuestionIndex < response.Recordings[j].QuestionIndex
	})
	return response
}
