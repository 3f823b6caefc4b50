package audio

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultMinSize is the smallest payload accepted as carrying a container header.
const DefaultMinSize = 200

const (
	msgEmpty         = "Empty audio file"
	msgTooSmall      = "Audio file too small, likely missing header"
	msgBadWebMHeader = "Invalid WebM header signature"
)

var (
	ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}
	ftypBox   = []byte("ftyp")

	acceptedTypes = []string{"audio/webm", "audio/mp4", "audio/mpeg", "audio/wav", "audio/ogg"}
)

// ErrInvalidAudio is wrapped by Result.Err for every rejected payload.
var ErrInvalidAudio = errors.New("invalid audio")

// Result describes the outcome of validating a blob.
type Result struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
	Size  int64  `json:"size"`
	Type  string `json:"type"`
}

// Err converts a failed result into an error wrapping ErrInvalidAudio.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidAudio, r.Error)
}

// Validator checks container structure against the declared MIME type.
type Validator struct {
	minSize int64
	logger  zerolog.Logger
}

// NewValidator builds a validator. A non-positive minSize falls back to DefaultMinSize.
func NewValidator(minSize int, logger zerolog.Logger) *Validator {
	if minSize <= 0 {
		minSize = DefaultMinSize
	}
	return &Validator{
		minSize: int64(minSize),
		logger:  logger.With().Str("component", "audio_validator").Logger(),
	}
}

// MinSize returns the configured size floor.
func (v *Validator) MinSize() int64 {
	return v.minSize
}

// Validate applies the rules in order and stops at the first failure. The blob is never modified.
func (v *Validator) Validate(b *Blob) Result {
	if b == nil || b.Size() == 0 {
		typ := "unknown"
		if b != nil && b.Type() != "" {
			typ = b.Type()
		}
		return Result{Valid: false, Error: msgEmpty, Size: b.Size(), Type: typ}
	}

	result := Result{Size: b.Size(), Type: b.Type()}

	if !IsAcceptedType(b.Type()) {
		result.Error = fmt.Sprintf("Unsupported MIME type: %s. Supported: WebM, MP4, MPEG, WAV, OGG", b.Type())
		return result
	}

	if b.Size() < v.minSize {
		result.Error = msgTooSmall
		return result
	}

	switch BaseType(b.Type()) {
	case "audio/webm":
		if header := b.head(len(ebmlMagic)); len(header) == len(ebmlMagic) && !bytes.Equal(header, ebmlMagic) {
			result.Error = msgBadWebMHeader
			return result
		}
	case "audio/mp4":
		if !bytes.Contains(b.head(100), ftypBox) {
			v.logger.Warn().Int64("size", b.Size()).Msg("mp4 payload missing ftyp box, accepting anyway")
		}
	}

	result.Valid = true
	return result
}

// IsAcceptedType reports whether the declared type names one of the supported containers,
// either exactly or followed by parameters.
func IsAcceptedType(mimeType string) bool {
	declared := strings.ToLower(strings.TrimSpace(mimeType))
	for _, accepted := range acceptedTypes {
		if declared == accepted || strings.HasPrefix(declared, accepted+";") {
			return true
		}
	}
	return false
}
