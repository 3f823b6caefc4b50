package capture

import (
	"context"
	"sync"
	"time"
)

// Constraints are the microphone settings requested on acquire.
type Constraints struct {
	EchoCancellation bool `json:"echoCancellation"`
	NoiseSuppression bool `json:"noiseSuppression"`
	SampleRate       int  `json:"sampleRate"`
}

// RecorderOptions configure the encoder once the device is open.
type RecorderOptions struct {
	MIMEType      string        `json:"mimeType"`
	BitsPerSecond int           `json:"audioBitsPerSecond"`
	Timeslice     time.Duration `json:"-"`
}

// Device opens the microphone.
type Device interface {
	Acquire(ctx context.Context, constraints Constraints) (Stream, error)
}

// Stream is an open microphone. onData receives chunks in arrival order and onStop fires
// asynchronously after Stop once the recorder has flushed its last chunk.
type Stream interface {
	Start(opts RecorderOptions, onData func([]byte), onStop func()) error
	Stop() error
	Release()
}

// Locks enforces that one key, typically a student, holds at most one open device.
type Locks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocks() *Locks {
	return &Locks{held: make(map[string]struct{})}
}

// Guard wraps a device so Acquire fails with ErrDeviceBusy while another stream for key is open.
func (l *Locks) Guard(key string, device Device) Device {
	return &guardedDevice{locks: l, key: key, inner: device}
}

// Held reports whether key currently holds a device.
func (l *Locks) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

func (l *Locks) take(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *Locks) give(key string) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
}

type guardedDevice struct {
	locks *Locks
	key   string
	inner Device
}

func (d *guardedDevice) Acquire(ctx context.Context, constraints Constraints) (Stream, error) {
	if !d.locks.take(d.key) {
		return nil, ErrDeviceBusy
	}
	stream, err := d.inner.Acquire(ctx, constraints)
	if err != nil {
		d.locks.give(d.key)
		return nil, err
	}
	return &guardedStream{Stream: stream, release: func() { d.locks.give(d.key) }}, nil
}

type guardedStream struct {
	Stream
	once    sync.Once
	release func()
}

func (s *guardedStream) Release() {
	s.once.Do(func() {
		s.Stream.Release()
		s.release()
	})
}
