package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-speaking-api/internal/audio"
	"github.com/noah-isme/gema-speaking-api/internal/auth"
	"github.com/noah-isme/gema-speaking-api/internal/repository"
)

func newTestUploadService(store *storeStub, repo repository.UploadRepository) *recordingUploadService {
	svc := NewRecordingUploadService(audio.NewValidator(audio.DefaultMinSize, testLogger()), store, auth.ContextProvider{}, repo, testLogger()).(*recordingUploadService)
	svc.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return svc
}

func TestUploadAudioRequiresSession(t *testing.T) {
	store := newStoreStub()
	svc := newTestUploadService(store, &uploadRepoStub{})

	_, err := svc.UploadAudio(context.Background(), webmBlob(50*1024), "a1", "q1", "s1")
	require.ErrorIs(t, err, ErrUploadUnauthenticated)
	require.EqualError(t, err, "User must be authenticated to upload recordings")
	require.Zero(t, store.calls())
}

func TestUploadAudioRejectsInvalidBlob(t *testing.T) {
	store := newStoreStub()
	svc := newTestUploadService(store, &uploadRepoStub{})

	_, err := svc.UploadAudio(studentContext("s1"), audio.NewBlob(make([]byte, 50), "audio/webm"), "a1", "q1", "s1")
	require.ErrorIs(t, err, ErrUploadInvalidAudio)
	require.ErrorIs(t, err, audio.ErrInvalidAudio)
	require.True(t, strings.HasPrefix(err.Error(), "Invalid audio file: Audio file too small"))
	require.Zero(t, store.calls())
}

func TestUploadAudioStoresUnderStudentPath(t *testing.T) {
	store := newStoreStub()
	repo := &uploadRepoStub{}
	svc := newTestUploadService(store, repo)

	url, err := svc.UploadAudio(studentContext("s1"), webmBlob(1024), "a1", "q1", "s1")
	require.NoError(t, err)

	path := "recordings/s1/a1/s1_a1_q1_1700000000123.webm"
	require.Equal(t, []string{path}, store.paths())
	require.Equal(t, "https://files.example.com/recordings-bucket/"+path, url)
	require.False(t, store.opts[0].Overwrite)
	require.Equal(t, "audio/webm;codecs=opus", store.opts[0].ContentType)

	require.Len(t, repo.records, 1)
	require.Equal(t, path, repo.records[0].Path)
	require.Equal(t, "q1", repo.records[0].QuestionID)
	require.Len(t, repo.records[0].Checksum, 64)
}

func TestUploadAudioUsesMappedExtensions(t *testing.T) {
	cases := map[string]string{
		"audio/mp4":  ".m4a",
		"audio/mpeg": ".mp3",
		"audio/wav":  ".wav",
		"audio/ogg":  ".ogg",
	}
	for mime, ext := range cases {
		store := newStoreStub()
		svc := newTestUploadService(store, nil)

		_, err := svc.UploadAudio(studentContext("s1"), audio.NewBlob(make([]byte, 512), mime), "a1", "q1", "s1")
		require.NoError(t, err, mime)
		require.True(t, strings.HasSuffix(store.paths()[0], ext), mime)
	}
}

func TestUploadAudioSanitizesPathSegments(t *testing.T) {
	store := newStoreStub()
	svc := newTestUploadService(store, nil)

	_, err := svc.UploadAudio(studentContext("s1"), webmBlob(1024), "../a 1", "q/1", "s1")
	require.NoError(t, err)
	require.Equal(t, "recordings/s1/-a-1/s1_-a-1_q-1_1700000000123.webm", store.paths()[0])
}

func TestUploadAudioWrapsStorageErrors(t *testing.T) {
	store := newStoreStub()
	store.err = errors.New("bucket unavailable")
	svc := newTestUploadService(store, &uploadRepoStub{})

	_, err := svc.UploadAudio(studentContext("s1"), webmBlob(1024), "a1", "q1", "s1")
	require.ErrorIs(t, err, ErrUploadStorage)
	require.EqualError(t, err, "Failed to upload recording: bucket unavailable")
}

func TestUploadAudioIgnoresRecordFailures(t *testing.T) {
	store := newStoreStub()
	svc := newTestUploadService(store, &uploadRepoStub{err: errors.New("db down")})

	url, err := svc.UploadAudio(studentContext("s1"), webmBlob(1024), "a1", "q1", "s1")
	require.NoError(t, err)
	require.NotEmpty(t, url)
}
