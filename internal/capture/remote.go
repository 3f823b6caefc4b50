package capture

import (
	"context"
	"errors"
	"sync"
)

// Message is the JSON control frame exchanged with a browser capture client.
// Audio chunks travel as binary frames and never appear here.
type Message struct {
	Type        string           `json:"type"`
	Constraints *Constraints     `json:"constraints,omitempty"`
	Recorder    *RecorderOptions `json:"recorder,omitempty"`
	TimesliceMs int64            `json:"timesliceMs,omitempty"`
	State       string           `json:"state,omitempty"`
	Kind        string           `json:"kind,omitempty"`
	Error       string           `json:"error,omitempty"`
	URL         string           `json:"url,omitempty"`
	MIMEType    string           `json:"mimeType,omitempty"`
	Size        int64            `json:"size,omitempty"`
	DurationMs  int64            `json:"durationMs,omitempty"`
	UploadedURL string           `json:"uploadedUrl,omitempty"`
}

// Frame types.
const (
	MsgAcquire   = "acquire"
	MsgGranted   = "granted"
	MsgDenied    = "denied"
	MsgStart     = "start"
	MsgStop      = "stop"
	MsgStopped   = "stopped"
	MsgRelease   = "release"
	MsgToggle    = "toggle"
	MsgState     = "state"
	MsgCompleted = "completed"
	MsgUploaded  = "uploaded"
	MsgError     = "error"
)

// ErrPermissionDenied is returned when the client refuses microphone access.
var ErrPermissionDenied = errors.New("microphone permission denied")

// Writer is the outbound half of a websocket connection.
type Writer interface {
	WriteJSON(v interface{}) error
}

// RemoteDevice is a Device whose microphone lives in a browser on the other end of a websocket.
// The connection's read loop feeds it through Granted, Denied, Push and Stopped.
type RemoteDevice struct {
	writeMu sync.Mutex
	out     Writer

	mu      sync.Mutex
	grant   chan error
	current *remoteStream
}

func NewRemoteDevice(out Writer) *RemoteDevice {
	return &RemoteDevice{out: out}
}

// Send writes a control frame. Writes are serialised because websocket connections
// allow a single concurrent writer.
func (d *RemoteDevice) Send(msg Message) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.out.WriteJSON(msg)
}

func (d *RemoteDevice) Acquire(ctx context.Context, constraints Constraints) (Stream, error) {
	grant := make(chan error, 1)
	d.mu.Lock()
	d.grant = grant
	d.mu.Unlock()

	if err := d.Send(Message{Type: MsgAcquire, Constraints: &constraints}); err != nil {
		d.clearGrant(grant)
		return nil, err
	}

	select {
	case err := <-grant:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		d.clearGrant(grant)
		return nil, ctx.Err()
	}

	stream := &remoteStream{device: d}
	d.mu.Lock()
	d.current = stream
	d.mu.Unlock()
	return stream, nil
}

// Granted resolves a pending Acquire successfully.
func (d *RemoteDevice) Granted() {
	d.resolveGrant(nil)
}

// Denied fails a pending Acquire.
func (d *RemoteDevice) Denied(reason string) {
	if reason == "" {
		d.resolveGrant(ErrPermissionDenied)
		return
	}
	d.resolveGrant(errors.Join(ErrPermissionDenied, errors.New(reason)))
}

// Push delivers a binary chunk to the active recorder.
func (d *RemoteDevice) Push(chunk []byte) {
	if stream := d.active(); stream != nil {
		stream.data(chunk)
	}
}

// Stopped signals that the client flushed its final chunk.
func (d *RemoteDevice) Stopped() {
	if stream := d.active(); stream != nil {
		stream.stopped()
	}
}

func (d *RemoteDevice) resolveGrant(err error) {
	d.mu.Lock()
	grant := d.grant
	d.grant = nil
	d.mu.Unlock()
	if grant != nil {
		grant <- err
	}
}

func (d *RemoteDevice) clearGrant(grant chan error) {
	d.mu.Lock()
	if d.grant == grant {
		d.grant = nil
	}
	d.mu.Unlock()
}

func (d *RemoteDevice) active() *remoteStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *RemoteDevice) detach(stream *remoteStream) {
	d.mu.Lock()
	if d.current == stream {
		d.current = nil
	}
	d.mu.Unlock()
}

type remoteStream struct {
	device *RemoteDevice

	mu       sync.Mutex
	onData   func([]byte)
	onStop   func()
	stopSent bool
	released bool
}

func (s *remoteStream) Start(opts RecorderOptions, onData func([]byte), onStop func()) error {
	s.mu.Lock()
	s.onData = onData
	s.onStop = onStop
	s.mu.Unlock()
	return s.device.Send(Message{Type: MsgStart, Recorder: &opts, TimesliceMs: opts.Timeslice.Milliseconds()})
}

func (s *remoteStream) Stop() error {
	s.mu.Lock()
	if s.stopSent {
		s.mu.Unlock()
		return nil
	}
	s.stopSent = true
	s.mu.Unlock()
	return s.device.Send(Message{Type: MsgStop})
}

// Release tells the client to stop its tracks. Chunks and the stop signal are still accepted
// afterwards so the final flush is not lost.
func (s *remoteStream) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.mu.Unlock()
	_ = s.device.Send(Message{Type: MsgRelease})
}

func (s *remoteStream) data(chunk []byte) {
	s.mu.Lock()
	onData := s.onData
	s.mu.Unlock()
	if onData != nil {
		onData(chunk)
	}
}

func (s *remoteStream) stopped() {
	s.mu.Lock()
	onStop := s.onStop
	s.onStop = nil
	s.mu.Unlock()
	s.device.detach(s)
	if onStop != nil {
		onStop()
	}
}
