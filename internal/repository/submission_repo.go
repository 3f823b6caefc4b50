package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-speaking-api/internal/models"
)

// SubmissionPatch lists the columns a partial update may touch. Nil fields are left alone.
type SubmissionPatch struct {
	Recordings  *[]models.RecordingData
	Status      *string
	SubmittedAt *time.Time
}

// SubmissionRepository is the submission store used by the recording pipeline.
type SubmissionRepository interface {
	Get(ctx context.Context, id string) (models.Submission, error)
	GetLatestTwo(ctx context.Context, assignmentID, studentID string) ([]models.Submission, error)
	GetPrevious(ctx context.Context, assignmentID, studentID string, attempt int) (models.Submission, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.Submission, error)
	Create(ctx context.Context, submission *models.Submission) error
	Patch(ctx context.Context, id string, patch SubmissionPatch) (models.Submission, error)
	UpdateRecording(ctx context.Context, id, questionID, audioURL string) (string, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Submission{})
}

func (r *submissionRepository) Get(ctx context.Context, id string) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).Where("id = ?", id).First(&submission).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

// GetLatestTwo returns at most two submissions ordered by attempt descending: latest then previous.
func (r *submissionRepository) GetLatestTwo(ctx context.Context, assignmentID, studentID string) ([]models.Submission, error) {
	var submissions []models.Submission
	if err := r.baseQuery(ctx).
		Where("assignment_id = ? AND student_id = ?", assignmentID, studentID).
		Order("attempt DESC").
		Limit(2).
		Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

// GetPrevious returns the submission with the highest attempt strictly below attempt.
func (r *submissionRepository) GetPrevious(ctx context.Context, assignmentID, studentID string, attempt int) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).
		Where("assignment_id = ? AND student_id = ? AND attempt < ?", assignmentID, studentID, attempt).
		Order("attempt DESC").
		First(&submission).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]models.Submission, error) {
	var submissions []models.Submission
	if err := r.baseQuery(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("student_id ASC, attempt DESC").
		Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

// Create inserts the submission. A zero Attempt is replaced by max(existing)+1 for the pair.
func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if submission.Attempt <= 0 {
			var maxAttempt int
			if err := tx.Model(&models.Submission{}).
				Where("assignment_id = ? AND student_id = ?", submission.AssignmentID, submission.StudentID).
				Select("COALESCE(MAX(attempt), 0)").
				Scan(&maxAttempt).Error; err != nil {
				return err
			}
			submission.Attempt = maxAttempt + 1
		}
		if submission.Status == "" {
			submission.Status = models.SubmissionStatusInProgress
		}
		if submission.Recordings == nil {
			submission.Recordings = models.EncodeRecordings(nil)
		}
		return tx.Create(submission).Error
	})
}

func (r *submissionRepository) Patch(ctx context.Context, id string, patch SubmissionPatch) (models.Submission, error) {
	updates := map[string]interface{}{}
	if patch.Recordings != nil {
		updates["recordings"] = models.EncodeRecordings(*patch.Recordings)
	}
	if patch.Status != nil {
		updates["status"] = *patch.Status
	}
	if patch.SubmittedAt != nil {
		updates["submitted_at"] = *patch.SubmittedAt
	}

	if len(updates) > 0 {
		result := r.baseQuery(ctx).Where("id = ?", id).Updates(updates)
		if result.Error != nil {
			return models.Submission{}, result.Error
		}
		if result.RowsAffected == 0 {
			return models.Submission{}, gorm.ErrRecordNotFound
		}
	}

	return r.Get(ctx, id)
}

// UpdateRecording replaces or appends the entry for questionID inside one transaction and returns
// the submission's status. The row is locked on Postgres so concurrent uploads for different
// questions of the same submission do not lose each other's entries.
func (r *submissionRepository) UpdateRecording(ctx context.Context, id, questionID, audioURL string) (string, error) {
	var status string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&models.Submission{}).Where("id = ?", id)
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var submission models.Submission
		if err := query.First(&submission).Error; err != nil {
			return err
		}

		existing, _ := models.NormalizeRecordings(submission.Recordings, nil)
		updated := models.UpsertRecording(existing, questionID, audioURL)

		if err := tx.Model(&models.Submission{}).
			Where("id = ?", id).
			Update("recordings", models.EncodeRecordings(updated)).Error; err != nil {
			return err
		}

		status = submission.Status
		return nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}
