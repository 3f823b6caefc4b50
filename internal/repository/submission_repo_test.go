package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-speaking-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Submission{}, &models.Assignment{}, &models.UploadRecord{}))
	return db
}

func TestCreateAssignsMonotonicAttempts(t *testing.T) {
	repo := NewSubmissionRepository(setupTestDB(t))
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		submission := models.Submission{AssignmentID: "a1", StudentID: "s1"}
		require.NoError(t, repo.Create(ctx, &submission))
		require.Equal(t, want, submission.Attempt)
		require.Equal(t, models.SubmissionStatusInProgress, submission.Status)
		require.NotEmpty(t, submission.ID)
	}

	other := models.Submission{AssignmentID: "a1", StudentID: "s2"}
	require.NoError(t, repo.Create(ctx, &other))
	require.Equal(t, 1, other.Attempt)

	gap := models.Submission{AssignmentID: "a2", StudentID: "s1", Attempt: 5}
	require.NoError(t, repo.Create(ctx, &gap))
	next := models.Submission{AssignmentID: "a2", StudentID: "s1"}
	require.NoError(t, repo.Create(ctx, &next))
	require.Equal(t, 6, next.Attempt)
}

func TestLatestTwoAndPrevious(t *testing.T) {
	repo := NewSubmissionRepository(setupTestDB(t))
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		submission := models.Submission{AssignmentID: "a1", StudentID: "s1"}
		require.NoError(t, repo.Create(ctx, &submission))
		ids = append(ids, submission.ID)
	}

	latest, err := repo.GetLatestTwo(ctx, "a1", "s1")
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, 3, latest[0].Attempt)
	require.Equal(t, 2, latest[1].Attempt)

	previous, err := repo.GetPrevious(ctx, "a1", "s1", 3)
	require.NoError(t, err)
	require.Equal(t, ids[1], previous.ID)

	_, err = repo.GetPrevious(ctx, "a1", "s1", 1)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	none, err := repo.GetLatestTwo(ctx, "a1", "nobody")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestUpdateRecordingReplacesByQuestion(t *testing.T) {
	repo := NewSubmissionRepository(setupTestDB(t))
	ctx := context.Background()

	submission := models.Submission{AssignmentID: "a1", StudentID: "s1"}
	require.NoError(t, repo.Create(ctx, &submission))

	status, err := repo.UpdateRecording(ctx, submission.ID, "q1", "https://cdn/one.webm")
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusInProgress, status)

	_, err = repo.UpdateRecording(ctx, submission.ID, "q2", "https://cdn/two.webm")
	require.NoError(t, err)
	_, err = repo.UpdateRecording(ctx, submission.ID, "q1", "https://cdn/one-again.webm")
	require.NoError(t, err)

	stored, err := repo.Get(ctx, submission.ID)
	require.NoError(t, err)
	recordings, _ := models.NormalizeRecordings(stored.Recordings, nil)
	require.Equal(t, []models.RecordingData{
		{QuestionID: "q1", AudioURL: "https://cdn/one-again.webm"},
		{QuestionID: "q2", AudioURL: "https://cdn/two.webm"},
	}, recordings)

	_, err = repo.UpdateRecording(ctx, "missing", "q1", "x")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestPatchUpdatesOnlyProvidedFields(t *testing.T) {
	repo := NewSubmissionRepository(setupTestDB(t))
	ctx := context.Background()

	submission := models.Submission{AssignmentID: "a1", StudentID: "s1"}
	require.NoError(t, repo.Create(ctx, &submission))

	recordings := []models.RecordingData{{QuestionID: "q1", AudioURL: "u1"}}
	patched, err := repo.Patch(ctx, submission.ID, SubmissionPatch{Recordings: &recordings})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusInProgress, patched.Status)

	status := models.SubmissionStatusPending
	patched, err = repo.Patch(ctx, submission.ID, SubmissionPatch{Status: &status})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, patched.Status)
	stored, _ := models.NormalizeRecordings(patched.Recordings, nil)
	require.Equal(t, recordings, stored)

	_, err = repo.Patch(ctx, "missing", SubmissionPatch{Status: &status})
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestAssignmentRepositoryRoundTrip(t *testing.T) {
	repo := NewAssignmentRepository(setupTestDB(t))
	ctx := context.Background()

	assignment := models.Assignment{
		ID:        "a1",
		Title:     "Describe your hometown",
		Questions: []models.AssignmentQuestion{{ID: "q1", Prompt: "Where are you from?"}, {ID: "q2", Prompt: "What do you like about it?"}},
	}
	require.NoError(t, repo.Create(ctx, &assignment))

	loaded, err := repo.GetByID(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, []string{"q1", "q2"}, loaded.QuestionIDs())
	require.Equal(t, 1, loaded.QuestionIndex("q2"))
}
