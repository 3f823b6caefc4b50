package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-speaking-api/internal/audio"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeStream struct {
	mu       sync.Mutex
	opts     RecorderOptions
	onData   func([]byte)
	onStop   func()
	stopped  bool
	released int
	startErr error
	flush    []byte
	hang     bool
}

func (s *fakeStream) Start(opts RecorderOptions, onData func([]byte), onStop func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.opts = opts
	s.onData = onData
	s.onStop = onStop
	return nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	s.stopped = true
	onData, onStop, flush := s.onData, s.onStop, s.flush
	hang := s.hang
	s.mu.Unlock()
	if hang {
		return nil
	}
	go func() {
		if len(flush) > 0 {
			onData(flush)
		}
		onStop()
	}()
	return nil
}

func (s *fakeStream) Release() {
	s.mu.Lock()
	s.released++
	s.mu.Unlock()
}

func (s *fakeStream) emit(chunk []byte) {
	s.mu.Lock()
	onData := s.onData
	s.mu.Unlock()
	onData(chunk)
}

func (s *fakeStream) stopHandler() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onStop
}

func (s *fakeStream) releaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type fakeDevice struct {
	stream      *fakeStream
	err         error
	acquired    int
	constraints Constraints
}

func (d *fakeDevice) Acquire(_ context.Context, c Constraints) (Stream, error) {
	d.acquired++
	d.constraints = c
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

type fakeTracker struct{ tracked int }

func (t *fakeTracker) Track(*audio.Blob) string {
	t.tracked++
	return "/blobs/fake"
}

func newTestMachine(device Device, tracker URLTracker, clock *fakeClock) *Machine {
	logger := zerolog.New(io.Discard)
	m := NewMachine(device, audio.NewValidator(audio.DefaultMinSize, logger), tracker, Config{
		UserAgent:    chromeUA,
		Capabilities: audio.NewSupportedSet("audio/webm;codecs=opus", "audio/webm"),
	}, logger)
	m.now = clock.Now
	return m
}

func webmChunk(size int) []byte {
	chunk := bytes.Repeat([]byte{0x11}, size)
	copy(chunk, []byte{0x1A, 0x45, 0xDF, 0xA3})
	return chunk
}

func TestToggleRecordsValidWebM(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	stream := &fakeStream{flush: bytes.Repeat([]byte{0x22}, 120)}
	device := &fakeDevice{stream: stream}
	tracker := &fakeTracker{}
	m := newTestMachine(device, tracker, clock)

	completion, err := m.Toggle(context.Background())
	require.NoError(t, err)
	require.Nil(t, completion)
	require.Equal(t, StateRecording, m.State())
	require.Equal(t, "audio/webm;codecs=opus", stream.opts.MIMEType)
	require.Equal(t, 128000, stream.opts.BitsPerSecond)
	require.Equal(t, time.Second, stream.opts.Timeslice)
	require.True(t, device.constraints.EchoCancellation)
	require.True(t, device.constraints.NoiseSuppression)
	require.Equal(t, 44100, device.constraints.SampleRate)

	stream.emit(webmChunk(150))
	stream.emit(nil)
	clock.Advance(1500 * time.Millisecond)

	completion, err = m.Toggle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, completion)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rec, err := completion.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(270), rec.Blob.Size())
	require.Equal(t, "audio/webm;codecs=opus", rec.Blob.Type())
	require.Equal(t, []byte{0x1A, 0x45, 0xDF, 0xA3}, rec.Blob.Bytes()[:4])
	require.Equal(t, "/blobs/fake", rec.URL)
	require.Equal(t, 1500*time.Millisecond, rec.Duration)
	require.Equal(t, 1, tracker.tracked)
	require.Equal(t, 1, stream.releaseCount())
	require.Equal(t, StateIdle, m.State())
}

func TestShortRecordingFailsWithDurationError(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	stream := &fakeStream{}
	tracker := &fakeTracker{}
	m := newTestMachine(&fakeDevice{stream: stream}, tracker, clock)

	require.NoError(t, m.Start(context.Background()))
	stream.emit(webmChunk(40))
	clock.Advance(400 * time.Millisecond)

	completion, err := m.Stop()
	require.NoError(t, err)

	rec, err := completion.Wait(context.Background())
	require.Nil(t, rec.Blob)
	var captureErr *Error
	require.True(t, errors.As(err, &captureErr))
	require.Equal(t, KindDuration, captureErr.Kind)
	require.Equal(t, "Recording must be at least 1 second long", err.Error())
	require.Zero(t, tracker.tracked)
	require.Equal(t, StateIdle, m.State())
}

func TestInvalidContainerFailsValidation(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	stream := &fakeStream{}
	m := newTestMachine(&fakeDevice{stream: stream}, &fakeTracker{}, clock)

	require.NoError(t, m.Start(context.Background()))
	stream.emit(bytes.Repeat([]byte{0x00}, 300))
	clock.Advance(2 * time.Second)

	completion, err := m.Stop()
	require.NoError(t, err)
	_, err = completion.Wait(context.Background())
	require.EqualError(t, err, "Recording validation failed: Invalid WebM header signature")
}

func TestDeviceFailureLeavesMachineIdle(t *testing.T) {
	m := newTestMachine(&fakeDevice{err: errors.New("NotAllowedError")}, &fakeTracker{}, &fakeClock{})

	err := m.Start(context.Background())
	var captureErr *Error
	require.True(t, errors.As(err, &captureErr))
	require.Equal(t, KindDevice, captureErr.Kind)
	require.Equal(t, MsgDeviceFailure, err.Error())
	require.Equal(t, StateIdle, m.State())
}

func TestStopOnlyValidWhileRecording(t *testing.T) {
	m := newTestMachine(&fakeDevice{stream: &fakeStream{}}, &fakeTracker{}, &fakeClock{})

	_, err := m.Stop()
	require.ErrorIs(t, err, ErrNotRecording)

	require.NoError(t, m.Start(context.Background()))
	require.ErrorIs(t, m.Start(context.Background()), ErrBusy)
}

func TestCloseReleasesDeviceWithoutStop(t *testing.T) {
	stream := &fakeStream{}
	m := newTestMachine(&fakeDevice{stream: stream}, &fakeTracker{}, &fakeClock{})

	require.NoError(t, m.Start(context.Background()))
	m.Close()

	require.Equal(t, 1, stream.releaseCount())
	require.Equal(t, StateIdle, m.State())
	require.ErrorIs(t, m.Start(context.Background()), ErrClosed)
}

func TestLocksAllowOneHolderPerKey(t *testing.T) {
	locks := NewLocks()
	first := locks.Guard("student-1", &fakeDevice{stream: &fakeStream{}})
	second := locks.Guard("student-1", &fakeDevice{stream: &fakeStream{}})
	other := locks.Guard("student-2", &fakeDevice{stream: &fakeStream{}})

	stream, err := first.Acquire(context.Background(), Constraints{})
	require.NoError(t, err)
	require.True(t, locks.Held("student-1"))

	_, err = second.Acquire(context.Background(), Constraints{})
	require.ErrorIs(t, err, ErrDeviceBusy)

	_, err = other.Acquire(context.Background(), Constraints{})
	require.NoError(t, err)

	stream.Release()
	stream.Release()
	require.False(t, locks.Held("student-1"))

	_, err = second.Acquire(context.Background(), Constraints{})
	require.NoError(t, err)
}

func TestDurationMessageFollowsConfiguredMinimum(t *testing.T) {
	require.Equal(t, "Recording must be at least 2.5 seconds long", durationError(2500*time.Millisecond).Message)
}

func TestFinalizeTimesOutWhenRecorderNeverStops(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	stream := &fakeStream{hang: true}
	m := newTestMachine(&fakeDevice{stream: stream}, &fakeTracker{}, clock)
	m.cfg.FinalizeTimeout = 20 * time.Millisecond

	require.NoError(t, m.Start(context.Background()))
	stream.emit(webmChunk(300))
	clock.Advance(2 * time.Second)

	completion, err := m.Stop()
	require.NoError(t, err)
	require.Equal(t, StateFinalizing, m.State())
	lateStop := stream.stopHandler()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = completion.Wait(ctx)
	var captureErr *Error
	require.True(t, errors.As(err, &captureErr))
	require.Equal(t, KindTimeout, captureErr.Kind)
	require.Equal(t, MsgFinalizeTimeout, err.Error())
	require.Equal(t, StateIdle, m.State())
	require.Equal(t, 1, stream.releaseCount())

	next, err := m.Toggle(context.Background())
	require.NoError(t, err)
	require.Nil(t, next)
	require.Equal(t, StateRecording, m.State())

	lateStop()
	require.Equal(t, StateRecording, m.State())
}
