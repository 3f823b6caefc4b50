package capture

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-speaking-api/internal/audio"
)

// URLTracker hands out playable local URLs for finished blobs.
type URLTracker interface {
	Track(blob *audio.Blob) string
}

// Config carries the recorder settings and the runtime description used for negotiation.
type Config struct {
	MinDuration     time.Duration
	Timeslice       time.Duration
	BitsPerSecond   int
	SampleRate      int
	UserAgent       string
	Capabilities    audio.CapabilityProvider
	FinalizeTimeout time.Duration // bounds Finalizing when the recorder never calls back
}

func (c Config) withDefaults() Config {
	if c.MinDuration <= 0 {
		c.MinDuration = time.Second
	}
	if c.Timeslice <= 0 {
		c.Timeslice = time.Second
	}
	if c.BitsPerSecond <= 0 {
		c.BitsPerSecond = 128000
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 44100
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = 10 * time.Second
	}
	return c
}

// Machine drives one microphone through Idle, Requesting, Recording and Finalizing.
type Machine struct {
	mu        sync.Mutex
	state     State
	gen       uint64
	closed    bool
	stream    Stream
	mimeType  string
	startedAt time.Time
	chunks    [][]byte
	pending   *Completion
	deadline  *time.Timer

	device    Device
	validator *audio.Validator
	tracker   URLTracker
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
}

// NewMachine builds an idle machine bound to device.
func NewMachine(device Device, validator *audio.Validator, tracker URLTracker, cfg Config, logger zerolog.Logger) *Machine {
	return &Machine{
		device:    device,
		validator: validator,
		tracker:   tracker,
		cfg:       cfg.withDefaults(),
		logger:    logger.With().Str("component", "capture_machine").Logger(),
		now:       time.Now,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// MIMEType returns the type negotiated for the current or most recent session.
func (m *Machine) MIMEType() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mimeType
}

// Toggle starts a capture when idle and stops it when recording. A completion is returned only for stops.
func (m *Machine) Toggle(ctx context.Context) (*Completion, error) {
	switch m.State() {
	case StateIdle:
		return nil, m.Start(ctx)
	case StateRecording:
		return m.Stop()
	default:
		return nil, ErrBusy
	}
}

// Start opens the device and begins recording. Device failures return a *Error of KindDevice
// and leave the machine idle.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrBusy
	}
	m.state = StateRequesting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	stream, err := m.device.Acquire(ctx, Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		SampleRate:       m.cfg.SampleRate,
	})
	if err != nil {
		m.reset(gen)
		m.logger.Warn().Err(err).Msg("microphone acquire failed")
		return deviceError(err)
	}

	mimeType := audio.Negotiate(m.cfg.UserAgent, m.cfg.Capabilities)

	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		stream.Release()
		return ErrClosed
	}
	m.stream = stream
	m.mimeType = mimeType
	m.chunks = nil
	m.pending = newCompletion()
	m.startedAt = m.now()
	m.state = StateRecording
	m.mu.Unlock()

	opts := RecorderOptions{MIMEType: mimeType, BitsPerSecond: m.cfg.BitsPerSecond, Timeslice: m.cfg.Timeslice}
	if err := stream.Start(opts, m.dataHandler(gen), m.stopHandler(gen)); err != nil {
		m.reset(gen)
		stream.Release()
		m.logger.Warn().Err(err).Str("mime_type", mimeType).Msg("recorder start failed")
		return deviceError(err)
	}

	m.logger.Info().Str("mime_type", mimeType).Msg("recording started")
	return nil
}

// Stop asks the recorder to stop and releases the device. The returned completion resolves
// with the validated recording or a *Error once the recorder has flushed.
func (m *Machine) Stop() (*Completion, error) {
	m.mu.Lock()
	if m.state != StateRecording {
		m.mu.Unlock()
		return nil, ErrNotRecording
	}
	m.state = StateFinalizing
	stream := m.stream
	completion := m.pending
	m.deadline = time.AfterFunc(m.cfg.FinalizeTimeout, m.finalizeExpired(m.gen))
	m.mu.Unlock()

	if err := stream.Stop(); err != nil {
		m.logger.Warn().Err(err).Msg("recorder stop failed")
	}
	stream.Release()
	return completion, nil
}

// Close tears the machine down, releasing the device even if Stop was never called.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.gen++
	stream := m.stream
	pending := m.pending
	recording := m.state == StateRecording
	m.clearLocked()
	m.mu.Unlock()

	if stream != nil {
		if recording {
			_ = stream.Stop()
		}
		stream.Release()
	}
	if pending != nil {
		pending.resolve(Recording{}, ErrClosed)
	}
}

func (m *Machine) dataHandler(gen uint64) func([]byte) {
	return func(chunk []byte) {
		if len(chunk) == 0 {
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen != gen || (m.state != StateRecording && m.state != StateFinalizing) {
			return
		}
		m.chunks = append(m.chunks, append([]byte(nil), chunk...))
	}
}

func (m *Machine) stopHandler(gen uint64) func() {
	return func() {
		m.mu.Lock()
		if m.gen != gen || m.state != StateFinalizing {
			m.mu.Unlock()
			return
		}
		chunks := m.chunks
		mimeType := m.mimeType
		startedAt := m.startedAt
		completion := m.pending
		m.mu.Unlock()

		rec, err := m.finalize(chunks, mimeType, startedAt)

		m.mu.Lock()
		if m.gen == gen {
			m.clearLocked()
		}
		m.mu.Unlock()

		completion.resolve(rec, err)
	}
}

func (m *Machine) finalizeExpired(gen uint64) func() {
	return func() {
		m.mu.Lock()
		if m.gen != gen || m.state != StateFinalizing {
			m.mu.Unlock()
			return
		}
		completion := m.pending
		m.clearLocked()
		m.mu.Unlock()

		m.logger.Warn().Dur("timeout", m.cfg.FinalizeTimeout).Msg("recorder never flushed, abandoning capture")
		completion.resolve(Recording{}, timeoutError())
	}
}

func (m *Machine) finalize(chunks [][]byte, mimeType string, startedAt time.Time) (Recording, error) {
	blob := audio.Concat(chunks, mimeType)
	result := m.validator.Validate(blob)
	elapsed := m.now().Sub(startedAt)

	if elapsed < m.cfg.MinDuration {
		m.logger.Info().Dur("elapsed", elapsed).Msg("recording rejected as too short")
		return Recording{}, durationError(m.cfg.MinDuration)
	}
	if !result.Valid {
		m.logger.Warn().Str("reason", result.Error).Int64("size", result.Size).Msg("recording rejected by validator")
		return Recording{}, validationError(result.Error)
	}

	rec := Recording{
		Blob:      blob,
		MIMEType:  mimeType,
		Duration:  elapsed,
		CreatedAt: m.now(),
	}
	if m.tracker != nil {
		rec.URL = m.tracker.Track(blob)
	}
	m.logger.Info().Int64("size", blob.Size()).Dur("duration", elapsed).Msg("recording completed")
	return rec, nil
}

func (m *Machine) reset(gen uint64) {
	m.mu.Lock()
	if m.gen == gen {
		m.clearLocked()
	}
	m.mu.Unlock()
}

func (m *Machine) clearLocked() {
	if m.deadline != nil {
		m.deadline.Stop()
		m.deadline = nil
	}
	m.state = StateIdle
	m.stream = nil
	m.chunks = nil
	m.pending = nil
}
