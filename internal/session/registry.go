package session

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-speaking-api/internal/models"
)

// ErrAssignmentNotFound indicates the assignment does not exist.
var ErrAssignmentNotFound = errors.New("assignment not found")

// AssignmentSource loads assignments by id.
type AssignmentSource interface {
	GetByID(ctx context.Context, id string) (models.Assignment, error)
}

// OpenRequest identifies a session. Refresh discards any live session and reconciles again.
type OpenRequest struct {
	StudentID        string
	AssignmentID     string
	RedoSubmissionID string
	Refresh          bool
}

// Registry keeps live sessions per student and assignment between requests. Idle sessions expire.
type Registry struct {
	reconciler  *Reconciler
	assignments AssignmentSource
	sessions    *gocache.Cache
	loads       singleflight.Group
}

func NewRegistry(reconciler *Reconciler, assignments AssignmentSource, idleTTL time.Duration) *Registry {
	if idleTTL <= 0 {
		idleTTL = time.Hour
	}
	return &Registry{
		reconciler:  reconciler,
		assignments: assignments,
		sessions:    gocache.New(idleTTL, idleTTL/2),
	}
}

func registryKey(studentID, assignmentID string) string {
	return studentID + "\x00" + assignmentID
}

// Open returns the live session or reconciles a new one. Concurrent opens share one load.
func (r *Registry) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	key := registryKey(req.StudentID, req.AssignmentID)
	if !req.Refresh && req.RedoSubmissionID == "" {
		if cached, ok := r.sessions.Get(key); ok {
			r.sessions.SetDefault(key, cached)
			return cached.(*Session), nil
		}
	}

	value, err, _ := r.loads.Do(key+"\x00"+req.RedoSubmissionID, func() (interface{}, error) {
		assignment, err := r.assignments.GetByID(ctx, req.AssignmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrAssignmentNotFound
			}
			return nil, err
		}

		sess, err := r.reconciler.Load(ctx, LoadRequest{
			AssignmentID:     req.AssignmentID,
			StudentID:        req.StudentID,
			Assignment:       assignment,
			RedoSubmissionID: req.RedoSubmissionID,
		})
		if err != nil {
			return nil, err
		}
		r.sessions.SetDefault(key, sess)
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*Session), nil
}

// Lookup returns the live session without reconciling.
func (r *Registry) Lookup(studentID, assignmentID string) (*Session, bool) {
	cached, ok := r.sessions.Get(registryKey(studentID, assignmentID))
	if !ok {
		return nil, false
	}
	return cached.(*Session), true
}

// Active returns the number of live sessions.
func (r *Registry) Active() int {
	return r.sessions.ItemCount()
}
