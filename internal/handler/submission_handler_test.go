package handler_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-speaking-api/internal/audio"
	"github.com/noah-isme/gema-speaking-api/internal/auth"
	"github.com/noah-isme/gema-speaking-api/internal/dto"
	"github.com/noah-isme/gema-speaking-api/internal/handler"
	"github.com/noah-isme/gema-speaking-api/internal/models"
	"github.com/noah-isme/gema-speaking-api/internal/service"
)

type submissionServiceStub struct {
	created   dto.SubmissionCreateRequest
	createErr error
	submitErr error
	getErr    error
	submitted []string
	record    dto.SubmissionResponse
	list      []dto.SubmissionResponse
}

func (s *submissionServiceStub) SaveRecording(context.Context, *audio.Blob, string, string, string) (string, error) {
	return "", errors.New("not used")
}

func (s *submissionServiceStub) FoldRecording(context.Context, string, string, string, string) (models.Submission, error) {
	return models.Submission{}, errors.New("not used")
}

func (s *submissionServiceStub) Create(_ context.Context, studentID string, payload dto.SubmissionCreateRequest) (dto.SubmissionResponse, error) {
	if s.createErr != nil {
		return dto.SubmissionResponse{}, s.createErr
	}
	s.created = payload
	return dto.SubmissionResponse{ID: "sub-1", AssignmentID: payload.AssignmentID, StudentID: studentID, Attempt: 1, Status: payload.Status}, nil
}

func (s *submissionServiceStub) Submit(_ context.Context, id, studentID string) (dto.SubmissionResponse, error) {
	if s.submitErr != nil {
		return dto.SubmissionResponse{}, s.submitErr
	}
	s.submitted = append(s.submitted, id)
	return dto.SubmissionResponse{ID: id, StudentID: studentID, Status: models.SubmissionStatusPending}, nil
}

func (s *submissionServiceStub) Get(_ context.Context, id string) (dto.SubmissionResponse, error) {
	if s.getErr != nil {
		return dto.SubmissionResponse{}, s.getErr
	}
	record := s.record
	record.ID = id
	return record, nil
}

func (s *submissionServiceStub) ListByAssignment(context.Context, string) ([]dto.SubmissionResponse, error) {
	return s.list, nil
}

func newSubmissionApp(svc service.SubmissionService, userID, role string) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v2/speaking", func(c *fiber.Ctx) error {
		if userID != "" {
			c.Locals("user_id", userID)
			c.Locals("user_role", role)
			c.SetUserContext(auth.WithSession(c.UserContext(), auth.Session{UserID: userID, Role: role}))
		}
		return c.Next()
	})
	h := handler.NewSubmissionHandler(svc, zerolog.New(io.Discard))
	h.Register(group.Group("/submissions"))
	h.RegisterAssignmentRoutes(group.Group("/assignments"))
	return app
}

func TestSubmissionHandler_Create(t *testing.T) {
	svc := &submissionServiceStub{}
	app := newSubmissionApp(svc, "s1", "student")

	body := `{"assignment_id":"a1","status":"in_progress","recordings":[{"questionId":"q1","audioUrl":"https://files.example.com/q1.webm"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v2/speaking/submissions", strings.NewReader(body))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var response struct {
		Data dto.SubmissionResponse `json:"data"`
	}
	decodeResponse(t, resp, &response)

	require.Equal(t, "sub-1", response.Data.ID)
	require.Equal(t, "s1", response.Data.StudentID)
	require.Len(t, svc.created.Recordings, 1)
	require.Equal(t, "q1", svc.created.Recordings[0].QuestionID)
}

func TestSubmissionHandler_CreateRejectsTeachers(t *testing.T) {
	app := newSubmissionApp(&submissionServiceStub{}, "t1", "teacher")

	req := httptest.NewRequest(http.MethodPost, "/api/v2/speaking/submissions", strings.NewReader(`{"assignment_id":"a1"}`))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestSubmissionHandler_CreateValidationError(t *testing.T) {
	validationErr := validator.New().Struct(dto.SubmissionCreateRequest{})
	require.Error(t, validationErr)
	app := newSubmissionApp(&submissionServiceStub{createErr: validationErr}, "s1", "student")

	req := httptest.NewRequest(http.MethodPost, "/api/v2/speaking/submissions", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var response struct {
		Details map[string]string `json:"details"`
	}
	decodeResponse(t, resp, &response)
	require.Equal(t, "required", response.Details["SubmissionCreateRequest.AssignmentID"])
}

func TestSubmissionHandler_SubmitErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "not_found", err: service.ErrSubmissionNotFound, status: fiber.StatusNotFound},
		{name: "forbidden", err: service.ErrSubmissionForbidden, status: fiber.StatusForbidden},
		{name: "already", err: service.ErrSubmissionAlreadySubmitted, status: fiber.StatusConflict},
		{name: "incomplete", err: service.ErrSubmissionIncomplete, status: fiber.StatusConflict},
		{name: "past_due", err: service.ErrAssignmentPastDue, status: fiber.StatusUnprocessableEntity},
		{name: "generic", err: errors.New("boom"), status: fiber.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newSubmissionApp(&submissionServiceStub{submitErr: tc.err}, "s1", "student")
			resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v2/speaking/submissions/sub-1/submit", nil))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestSubmissionHandler_Submit(t *testing.T) {
	svc := &submissionServiceStub{}
	app := newSubmissionApp(svc, "s1", "student")

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v2/speaking/submissions/sub-9/submit", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"sub-9"}, svc.submitted)
}

func TestSubmissionHandler_ShowChecksOwnership(t *testing.T) {
	svc := &submissionServiceStub{record: dto.SubmissionResponse{StudentID: "s1"}}

	owner, err := newSubmissionApp(svc, "s1", "student").Test(httptest.NewRequest(http.MethodGet, "/api/v2/speaking/submissions/sub-1", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, owner.StatusCode)

	stranger, err := newSubmissionApp(svc, "s2", "student").Test(httptest.NewRequest(http.MethodGet, "/api/v2/speaking/submissions/sub-1", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, stranger.StatusCode)

	teacher, err := newSubmissionApp(svc, "t1", "teacher").Test(httptest.NewRequest(http.MethodGet, "/api/v2/speaking/submissions/sub-1", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, teacher.StatusCode)
}

func TestSubmissionHandler_ListByAssignmentForTeachers(t *testing.T) {
	svc := &submissionServiceStub{list: []dto.SubmissionResponse{{ID: "a"}, {ID: "b"}}}

	resp, err := newSubmissionApp(svc, "t1", "teacher").Test(httptest.NewRequest(http.MethodGet, "/api/v2/speaking/assignments/a1/submissions", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var response struct {
		Data []dto.SubmissionResponse `json:"data"`
		Meta struct {
			Total int `json:"total"`
		} `json:"meta"`
	}
	decodeResponse(t, resp, &response)
	require.Len(t, response.Data, 2)
	require.Equal(t, 2, response.Meta.Total)

	denied, err := newSubmissionApp(svc, "s1", "student").Test(httptest.NewRequest(http.MethodGet, "/api/v2/speaking/assignments/a1/submissions", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, denied.StatusCode)
}
