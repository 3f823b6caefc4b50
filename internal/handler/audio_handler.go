package handler

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-speaking-api/internal/audio"
	"github.com/noah-isme/gema-speaking-api/internal/blobcache"
	"github.com/noah-isme/gema-speaking-api/internal/dto"
	"github.com/noah-isme/gema-speaking-api/internal/observability"
	"github.com/noah-isme/gema-speaking-api/internal/utils"
)

// AudioHandler exposes container negotiation, diagnostics and tracked local blobs.
type AudioHandler struct {
	audio     *audio.Validator
	blobs     *blobcache.Tracker
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewAudioHandler constructs an audio handler.
func NewAudioHandler(audioValidator *audio.Validator, blobs *blobcache.Tracker, validate *validator.Validate, logger zerolog.Logger) *AudioHandler {
	return &AudioHandler{
		audio:     audioValidator,
		blobs:     blobs,
		validator: validate,
		logger:    logger.With().Str("component", "audio_handler").Logger(),
	}
}

// Register binds the audio routes.
func (h *AudioHandler) Register(router fiber.Router) {
	router.Get("/negotiate", h.negotiate)
	router.Post("/compatibility", h.compatibility)
	router.Post("/diagnostics/validate", h.validate)
	router.Post("/diagnostics/repair", h.repair)
	router.Get("/blobs/:id", h.blob)
}

func (h *AudioHandler) negotiate(c *fiber.Ctx) error {
	userAgent := strings.TrimSpace(c.Query("user_agent"))
	if userAgent == "" {
		userAgent = c.Get(fiber.HeaderUserAgent)
	}

	caps := audio.NewSupportedSet(splitAndTrim(c.Query("types"))...)
	mimeType := audio.Negotiate(userAgent, caps)
	engine := audio.ClassifyEngine(userAgent)

	return utils.SendSuccess(c, "recording format negotiated", dto.NegotiationResponse{
		Engine:      string(engine),
		MIMEType:    mimeType,
		Extension:   audio.DeriveExtension(mimeType),
		Preferences: audio.Preferences(engine),
	})
}

func (h *AudioHandler) compatibility(c *fiber.Ctx) error {
	var payload dto.CompatibilityRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	}
	if payload.UserAgent == "" {
		payload.UserAgent = c.Get(fiber.HeaderUserAgent)
	}

	caps := audio.NewSupportedSet(payload.SupportedTypes...)
	supported := make([]string, 0, len(payload.SupportedTypes))
	for _, candidate := range payload.SupportedTypes {
		if candidate = strings.TrimSpace(candidate); candidate != "" && audio.IsAcceptedType(candidate) {
			supported = append(supported, candidate)
		}
	}

	return utils.SendSuccess(c, "compatibility report", dto.CompatibilityResponse{
		Engine:         string(audio.ClassifyEngine(payload.UserAgent)),
		SupportedTypes: supported,
		WebMSupported:  caps.IsSupported("audio/webm") || caps.IsSupported("audio/webm;codecs=opus"),
		Recommended:    audio.Negotiate(payload.UserAgent, caps),
	})
}

func (h *AudioHandler) validate(c *fiber.Ctx) error {
	blob, err := readAudio(c)
	if err != nil {
		return h.readError(c, err)
	}

	result := h.audio.Validate(blob)
	if !result.Valid {
		observability.AudioRejected().WithLabelValues(observability.RejectionReason(result.Error)).Inc()
	}

	return utils.SendSuccess(c, "audio validated", dto.ValidationResponse{
		Result:      result,
		SniffedType: audio.Sniff(blob),
	})
}

func (h *AudioHandler) repair(c *fiber.Ctx) error {
	blob, err := readAudio(c)
	if err != nil {
		return h.readError(c, err)
	}

	result := h.audio.Repair(blob)
	outcome := "not_needed"
	switch {
	case result.Fixed:
		outcome = "fixed"
	case !result.Details.Valid:
		outcome = "failed"
	}
	observability.AudioRepairs().WithLabelValues(outcome).Inc()

	response := dto.RepairResponse{
		Fixed:       result.Fixed,
		Type:        result.Blob.Type(),
		Size:        result.Blob.Size(),
		Details:     result.Details,
		SniffedType: audio.Sniff(result.Blob),
	}
	if result.Fixed {
		response.BlobURL = h.blobs.Track(result.Blob)
	}

	return utils.SendSuccess(c, result.Details.Message, response)
}

func (h *AudioHandler) blob(c *fiber.Ctx) error {
	blob, err := h.blobs.Resolve(c.Params("id"))
	if err != nil {
		if errors.Is(err, blobcache.ErrNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "recording not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to resolve blob")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}

	contentType := blob.Type()
	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderCacheControl, "private, no-store")
	return c.Send(blob.Bytes())
}

func (h *AudioHandler) readError(c *fiber.Ctx, err error) error {
	if errors.Is(err, errAudioRequired) {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	requestLogger(h.logger, c).Warn().Err(err).Msg("failed to read audio payload")
	return utils.SendError(c, fiber.StatusBadRequest, "invalid audio payload")
}
