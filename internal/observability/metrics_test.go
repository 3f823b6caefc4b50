package observability

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRejectionReason(t *testing.T) {
	require.Equal(t, "empty", RejectionReason("Empty audio file"))
	require.Equal(t, "size", RejectionReason("Audio file too small, likely missing header"))
	require.Equal(t, "signature", RejectionReason("Invalid WebM header signature"))
	require.Equal(t, "type", RejectionReason("Unsupported MIME type: video/mp4. Supported: WebM, MP4, MPEG, WAV, OGG"))
	require.Equal(t, "other", RejectionReason("boom"))
}

func TestRegisterMetricsIsIdempotent(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()
	require.NotNil(t, RecordingUploads())
	require.NotNil(t, CaptureSessionsActive())
}
