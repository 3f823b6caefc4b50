package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-speaking-api/internal/audio"
	"github.com/noah-isme/gema-speaking-api/internal/auth"
	"github.com/noah-isme/gema-speaking-api/internal/models"
	"github.com/noah-isme/gema-speaking-api/pkg/storage"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func setupServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Submission{}, &models.Assignment{}, &models.UploadRecord{}))
	return db
}

func webmBlob(size int) *audio.Blob {
	data := make([]byte, size)
	copy(data, []byte{0x1A, 0x45, 0xDF, 0xA3})
	return audio.NewBlob(data, "audio/webm;codecs=opus")
}

func studentContext(id string) context.Context {
	return auth.WithSession(context.Background(), auth.Session{UserID: id, Role: "student"})
}

type storeStub struct {
	mu      sync.Mutex
	uploads map[string][]byte
	opts    []storage.UploadOptions
	err     error
}

func newStoreStub() *storeStub {
	return &storeStub{uploads: make(map[string][]byte)}
}

func (s *storeStub) Upload(_ context.Context, path string, data []byte, opts storage.UploadOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.uploads[path] = data
	s.opts = append(s.opts, opts)
	return nil
}

func (s *storeStub) PublicURL(path string) string {
	return "https://files.example.com/recordings-bucket/" + path
}

func (s *storeStub) SignedURL(_ context.Context, path string, _ time.Duration) (string, error) {
	return "https://files.example.com/signed/" + path, nil
}

func (s *storeStub) ObjectPath(publicURL string) string {
	return storage.PathFromURL(publicURL, "/recordings-bucket/")
}

func (s *storeStub) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.opts)
}

func (s *storeStub) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.uploads))
	for path := range s.uploads {
		out = append(out, path)
	}
	return out
}

type uploadRepoStub struct {
	mu      sync.Mutex
	records []models.UploadRecord
	err     error
}

func (u *uploadRepoStub) Create(_ context.Context, record *models.UploadRecord) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	u.records = append(u.records, *record)
	return nil
}
