package handler_test

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-speaking-api/internal/audio"
	"github.com/noah-isme/gema-speaking-api/internal/blobcache"
	"github.com/noah-isme/gema-speaking-api/internal/dto"
	"github.com/noah-isme/gema-speaking-api/internal/handler"
)

const safariUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15"

func newAudioApp(t *testing.T) (*fiber.App, *blobcache.Tracker) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	tracker := blobcache.NewTracker(time.Minute, "/api/v2/speaking/blobs/", logger)
	app := fiber.New()
	group := app.Group("/api/v2/speaking", withUser("s1", "student"))
	handler.NewAudioHandler(audio.NewValidator(0, logger), tracker, validator.New(), logger).Register(group)
	return app, tracker
}

func TestAudioHandler_NegotiatePrefersMP4OnSafari(t *testing.T) {
	app, _ := newAudioApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/speaking/negotiate?types=audio/webm,audio/mp4", nil)
	req.Header.Set("User-Agent", safariUA)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var response struct {
		Success bool                    `json:"success"`
		Data    dto.NegotiationResponse `json:"data"`
	}
	decodeResponse(t, resp, &response)

	require.True(t, response.Success)
	require.Equal(t, "safari", response.Data.Engine)
	require.Equal(t, "audio/mp4", response.Data.MIMEType)
	require.Equal(t, "m4a", response.Data.Extension)
}

func TestAudioHandler_NegotiateFallsBackToWebM(t *testing.T) {
	app, _ := newAudioApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/speaking/negotiate", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	var response struct {
		Data dto.NegotiationResponse `json:"data"`
	}
	decodeResponse(t, resp, &response)
	require.Equal(t, audio.DefaultMIME, response.Data.MIMEType)
}

func TestAudioHandler_Compatibility(t *testing.T) {
	app, _ := newAudioApp(t)

	body := `{"user_agent":"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36","supported_types":["audio/webm;codecs=opus","video/x-matroska"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v2/speaking/compatibility", strings.NewReader(body))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var response struct {
		Data dto.CompatibilityResponse `json:"data"`
	}
	decodeResponse(t, resp, &response)

	require.Equal(t, "chrome", response.Data.Engine)
	require.True(t, response.Data.WebMSupported)
	require.Equal(t, []string{"audio/webm;codecs=opus"}, response.Data.SupportedTypes)
	require.Equal(t, "audio/webm;codecs=opus", response.Data.Recommended)
}

func TestAudioHandler_ValidateReportsReason(t *testing.T) {
	app, _ := newAudioApp(t)

	payload := bytes.Repeat([]byte{0x00}, 300)
	resp, err := app.Test(audioRequest(t, http.MethodPost, "/api/v2/speaking/diagnostics/validate", payload, "audio/webm"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var response struct {
		Data dto.ValidationResponse `json:"data"`
	}
	decodeResponse(t, resp, &response)

	require.False(t, response.Data.Valid)
	require.Equal(t, "Invalid WebM header signature", response.Data.Error)
	require.Equal(t, int64(300), response.Data.Size)
}

func TestAudioHandler_ValidateRequiresPayload(t *testing.T) {
	app, _ := newAudioApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v2/speaking/diagnostics/validate", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAudioHandler_RepairTracksFixedBlob(t *testing.T) {
	app, tracker := newAudioApp(t)

	payload := bytes.Repeat([]byte{0x42}, 400)
	resp, err := app.Test(audioRequest(t, http.MethodPost, "/api/v2/speaking/diagnostics/repair", payload, "audio/webm"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var response struct {
		Message string             `json:"message"`
		Data    dto.RepairResponse `json:"data"`
	}
	decodeResponse(t, resp, &response)

	require.True(t, response.Data.Fixed)
	require.Equal(t, audio.RepairedType, response.Data.Type)
	require.Equal(t, int64(400+audio.HeaderSize), response.Data.Size)
	require.Equal(t, "Successfully repaired WebM file by adding proper header", response.Message)
	require.True(t, tracker.Owns(response.Data.BlobURL))

	blobResp, err := app.Test(httptest.NewRequest(http.MethodGet, response.Data.BlobURL, nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, blobResp.StatusCode)
	require.Equal(t, audio.RepairedType, blobResp.Header.Get("Content-Type"))
	data, err := io.ReadAll(blobResp.Body)
	require.NoError(t, err)
	require.Len(t, data, 400+audio.HeaderSize)
}

func TestAudioHandler_RepairLeavesValidBlob(t *testing.T) {
	app, _ := newAudioApp(t)

	resp, err := app.Test(audioRequest(t, http.MethodPost, "/api/v2/speaking/diagnostics/repair", webmPayload(512), "audio/webm"))
	require.NoError(t, err)

	var response struct {
		Data dto.RepairResponse `json:"data"`
	}
	decodeResponse(t, resp, &response)

	require.False(t, response.Data.Fixed)
	require.Empty(t, response.Data.BlobURL)
	require.Equal(t, int64(512), response.Data.Size)
}

func TestAudioHandler_UnknownBlob(t *testing.T) {
	app, tracker := newAudioApp(t)

	url := tracker.Track(audio.NewBlob(webmPayload(256), "audio/webm"))
	tracker.Revoke(url)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, url, nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
