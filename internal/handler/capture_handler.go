package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-speaking-api/internal/audio"
	"github.com/noah-isme/gema-speaking-api/internal/blobcache"
	"github.com/noah-isme/gema-speaking-api/internal/capture"
	"github.com/noah-isme/gema-speaking-api/internal/middleware"
	"github.com/noah-isme/gema-speaking-api/internal/observability"
	"github.com/noah-isme/gema-speaking-api/internal/session"
)

// Error kinds reported on the capture socket besides the capture.Kind values.
const (
	captureKindState    = "state"
	captureKindProtocol = "protocol"
	captureKindUpload   = "upload"
)

// captureConn is the part of a websocket connection the capture loop uses.
type captureConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
}

type captureOptions struct {
	UserID        string
	AssignmentID  string
	QuestionIndex int
	UserAgent     string
	Types         []string
}

// CaptureHandler drives a server-side capture state machine whose microphone is a browser
// connected over a websocket.
type CaptureHandler struct {
	audio    *audio.Validator
	blobs    *blobcache.Tracker
	locks    *capture.Locks
	sessions SessionOpener
	cfg      capture.Config
	logger   zerolog.Logger
}

// NewCaptureHandler constructs a capture handler. sessions may be nil when captures are not
// saved into recording sessions.
func NewCaptureHandler(audioValidator *audio.Validator, blobs *blobcache.Tracker, locks *capture.Locks, sessions SessionOpener, cfg capture.Config, logger zerolog.Logger) *CaptureHandler {
	if locks == nil {
		locks = capture.NewLocks()
	}
	return &CaptureHandler{
		audio:    audioValidator,
		blobs:    blobs,
		locks:    locks,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger.With().Str("component", "capture_handler").Logger(),
	}
}

// Register binds the capture websocket.
func (h *CaptureHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("request_ctx", requestContext(c))
			c.Locals("user_agent", c.Get(fiber.HeaderUserAgent))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.handleConnection))
}

func (h *CaptureHandler) handleConnection(conn *websocket.Conn) {
	userID := websocketUserID(conn)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "user id missing"))
		_ = conn.Close()
		return
	}

	index := -1
	if raw := strings.TrimSpace(conn.Query("index")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusBadRequest, "invalid index"))
			_ = conn.Close()
			return
		}
		index = parsed
	}

	userAgent := strings.TrimSpace(conn.Query("user_agent"))
	if userAgent == "" {
		userAgent, _ = conn.Locals("user_agent").(string)
	}

	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	opts := captureOptions{
		UserID:        userID,
		AssignmentID:  strings.TrimSpace(conn.Query("assignmentId")),
		QuestionIndex: index,
		UserAgent:     userAgent,
		Types:         splitAndTrim(conn.Query("types")),
	}

	h.logger.Info().Str("user_id", userID).Str("assignment_id", opts.AssignmentID).Msg("capture websocket connected")
	h.serve(baseCtx, conn, opts)
	h.logger.Info().Str("user_id", userID).Msg("capture websocket disconnected")
}

// serve runs the read loop until the connection fails. The machine is closed on return so the
// device is released even when the client never stopped.
func (h *CaptureHandler) serve(base context.Context, conn captureConn, opts captureOptions) {
	ctx, cancel := context.WithCancel(base)
	defer cancel()

	logger := h.logger.With().Str("user_id", opts.UserID).Logger()
	if correlation := middleware.CorrelationIDFromContext(ctx); correlation != "" {
		logger = logger.With().Str("correlation_id", correlation).Logger()
	}

	cfg := h.cfg
	cfg.UserAgent = opts.UserAgent
	cfg.Capabilities = audio.NewSupportedSet(opts.Types...)

	device := capture.NewRemoteDevice(conn)
	machine := capture.NewMachine(h.locks.Guard(opts.UserID, device), h.audio, h.blobs, cfg, logger)
	defer machine.Close()

	observability.CaptureSessionsActive().Inc()
	defer observability.CaptureSessionsActive().Dec()

	sendState(device, machine)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType == websocket.BinaryMessage {
			device.Push(data)
			continue
		}

		var msg capture.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = device.Send(capture.Message{Type: capture.MsgError, Kind: captureKindProtocol, Error: "invalid control frame"})
			continue
		}

		switch msg.Type {
		case capture.MsgGranted:
			device.Granted()
		case capture.MsgDenied:
			device.Denied(msg.Error)
		case capture.MsgStopped:
			device.Stopped()
		case capture.MsgToggle:
			go h.toggle(ctx, device, machine, opts, logger)
		case capture.MsgState:
			sendState(device, machine)
		default:
			_ = device.Send(capture.Message{Type: capture.MsgError, Kind: captureKindProtocol, Error: "unknown frame type: " + msg.Type})
		}
	}
}

func (h *CaptureHandler) toggle(ctx context.Context, device *capture.RemoteDevice, machine *capture.Machine, opts captureOptions, logger zerolog.Logger) {
	completion, err := machine.Toggle(ctx)
	if err != nil {
		sendCaptureError(device, err)
		sendState(device, machine)
		return
	}
	sendState(device, machine)
	if completion == nil {
		return
	}

	rec, err := completion.Wait(ctx)
	sendState(device, machine)
	if err != nil {
		sendCaptureError(device, err)
		return
	}

	completed := capture.Message{
		Type:       capture.MsgCompleted,
		URL:        rec.URL,
		MIMEType:   rec.MIMEType,
		Size:       rec.Blob.Size(),
		DurationMs: rec.Duration.Milliseconds(),
	}

	if h.sessions == nil || opts.AssignmentID == "" || opts.QuestionIndex < 0 {
		_ = device.Send(completed)
		return
	}

	sess, err := h.sessions.Open(ctx, session.OpenRequest{StudentID: opts.UserID, AssignmentID: opts.AssignmentID})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to open recording session for capture")
		_ = device.Send(completed)
		_ = device.Send(capture.Message{Type: capture.MsgError, Kind: captureKindUpload, Error: err.Error()})
		return
	}

	state, err := sess.SaveRecording(ctx, opts.QuestionIndex, rec.Blob)
	if err != nil {
		_ = device.Send(completed)
		_ = device.Send(capture.Message{Type: capture.MsgError, Kind: captureKindUpload, Error: err.Error()})
		return
	}
	h.blobs.Revoke(rec.URL)
	completed.URL = state.URL
	_ = device.Send(completed)

	if err := sess.AwaitUpload(ctx, opts.QuestionIndex); err != nil {
		_ = device.Send(capture.Message{Type: capture.MsgError, Kind: captureKindUpload, Error: err.Error()})
		return
	}
	if current, ok := sess.Recording(opts.QuestionIndex); ok && current.URL == state.URL {
		_ = device.Send(capture.Message{Type: capture.MsgUploaded, URL: current.URL, UploadedURL: current.UploadedURL})
	}
}

func sendState(device *capture.RemoteDevice, machine *capture.Machine) {
	_ = device.Send(capture.Message{Type: capture.MsgState, State: machine.State().String(), MIMEType: machine.MIMEType()})
}

func sendCaptureError(device *capture.RemoteDevice, err error) {
	var captureErr *capture.Error
	if errors.As(err, &captureErr) {
		_ = device.Send(capture.Message{Type: capture.MsgError, Kind: string(captureErr.Kind), Error: captureErr.Message})
		return
	}
	_ = device.Send(capture.Message{Type: capture.MsgError, Kind: captureKindState, Error: err.Error()})
}

func websocketUserID(conn *websocket.Conn) string {
	if value := conn.Locals("user_id"); value != nil {
		switch v := value.(type) {
		case uint:
			return strconv.FormatUint(uint64(v), 10)
		case int:
			return strconv.Itoa(v)
		case string:
			return strings.TrimSpace(v)
		}
	}
	return ""
}
