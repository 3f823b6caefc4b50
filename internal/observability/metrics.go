package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	speakingRequestsTotal  *prometheus.CounterVec
	speakingLatencySeconds *prometheus.HistogramVec
	speakingErrorsTotal    *prometheus.CounterVec

	audioRejectedTotal     *prometheus.CounterVec
	audioRepairsTotal      *prometheus.CounterVec
	recordingUploadsTotal  *prometheus.CounterVec
	uploadLatencySeconds   prometheus.Histogram
	signedURLCacheTotal    *prometheus.CounterVec
	copyForwardTotal       *prometheus.CounterVec
	captureSessionsActive  prometheus.Gauge
	gradingDispatchTotal   *prometheus.CounterVec
	notificationsPublished *prometheus.CounterVec
	sseClientsActive       prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors for the speaking pipeline.
func RegisterMetrics() {
	registerOnce.Do(func() {
		speakingRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "speaking_requests_total",
			Help: "Total number of speaking API requests served.",
		}, []string{"method", "route", "status"})

		speakingLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "speaking_latency_seconds",
			Help:    "Latency distribution for speaking API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}, []string{"method", "route"})

		speakingErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "speaking_errors_total",
			Help: "Total number of error responses returned by speaking endpoints.",
		}, []string{"method", "route", "status"})

		audioRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audio_validation_rejected_total",
			Help: "Audio payloads rejected by container validation, by reason.",
		}, []string{"reason"})

		audioRepairsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audio_repairs_total",
			Help: "Container repair attempts by outcome.",
		}, []string{"outcome"})

		recordingUploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recording_uploads_total",
			Help: "Recording uploads by container extension and result.",
		}, []string{"extension", "result"})

		uploadLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "recording_upload_latency_seconds",
			Help:    "Time spent pushing a recording to the blob store.",
			Buckets: prometheus.DefBuckets,
		})

		signedURLCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signed_url_cache_total",
			Help: "Signed URL cache lookups by result.",
		}, []string{"result"})

		copyForwardTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recording_copy_forward_total",
			Help: "Copy-forward decisions taken while reconciling sessions.",
		}, []string{"outcome"})

		captureSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "capture_sessions_active",
			Help: "Open websocket capture sessions.",
		})

		gradingDispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_dispatch_total",
			Help: "Submissions forwarded to the grading API by result.",
		}, []string{"result"})

		notificationsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_published_total",
			Help: "Recording notifications published by type.",
		}, []string{"type"})

		sseClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sse_clients_active",
			Help: "Connected notification stream clients.",
		})

		prometheus.MustRegister(
			speakingRequestsTotal, speakingLatencySeconds, speakingErrorsTotal,
			audioRejectedTotal, audioRepairsTotal, recordingUploadsTotal, uploadLatencySeconds,
			signedURLCacheTotal, copyForwardTotal, captureSessionsActive, gradingDispatchTotal,
			notificationsPublished, sseClientsActive,
		)
	})
}

// SpeakingRequests exposes the counter for API requests.
func SpeakingRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return speakingRequestsTotal
}

// SpeakingLatency exposes the latency histogram for API requests.
func SpeakingLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return speakingLatencySeconds
}

// SpeakingErrors exposes the counter for error responses.
func SpeakingErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return speakingErrorsTotal
}

func AudioRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return audioRejectedTotal
}

func AudioRepairs() *prometheus.CounterVec {
	RegisterMetrics()
	return audioRepairsTotal
}

func RecordingUploads() *prometheus.CounterVec {
	RegisterMetrics()
	return recordingUploadsTotal
}

func UploadLatency() prometheus.Histogram {
	RegisterMetrics()
	return uploadLatencySeconds
}

func SignedURLCache() *prometheus.CounterVec {
	RegisterMetrics()
	return signedURLCacheTotal
}

func CopyForward() *prometheus.CounterVec {
	RegisterMetrics()
	return copyForwardTotal
}

func CaptureSessionsActive() prometheus.Gauge {
	RegisterMetrics()
	return captureSessionsActive
}

func GradingDispatch() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingDispatchTotal
}

func NotificationsPublishedTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsPublished
}

func SSEClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return sseClientsActive
}

// RejectionReason buckets a validator message into a low-cardinality label.
func RejectionReason(message string) string {
	switch {
	case message == "Empty audio file":
		return "empty"
	case message == "Invalid WebM header signature":
		return "signature"
	case strings.HasPrefix(message, "Audio file too small"):
		return "size"
	case strings.HasPrefix(message, "Unsupported MIME type"):
		return "type"
	default:
		return "other"
	}
}
