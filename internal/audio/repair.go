package audio

// RepairedType is the MIME type assigned to blobs that received a synthetic header.
const RepairedType = "audio/webm;codecs=opus"

// minimalWebMHeader is a structurally valid EBML/Segment/Info/Tracks/TrackEntry/Cluster prefix.
// Sizes are marked unknown so the original payload parses as cluster data.
var minimalWebMHeader = []byte{
	// EBML
	0x1A, 0x45, 0xDF, 0xA3,
	0x01, 0x00, 0x00, 0x00,
	0x42, 0x86, 0x81, 0x01, // EBMLVersion
	0x42, 0xF7, 0x81, 0x01, // EBMLReadVersion
	0x42, 0xF2, 0x81, 0x04, // EBMLMaxIDLength
	0x42, 0xF3, 0x81, 0x08, // EBMLMaxSizeLength
	0x42, 0x82, 0x84, 0x77, 0x65, 0x62, 0x6D, // DocType "webm"
	0x42, 0x87, 0x81, 0x02, // DocTypeVersion
	0x42, 0x85, 0x81, 0x02, // DocTypeReadVersion

	// Segment
	0x18, 0x53, 0x80, 0x67,
	0x01, 0x00, 0x00, 0x00,

	// Info, TimecodeScale 1ms
	0x15, 0x49, 0xA9, 0x66,
	0x01, 0x00, 0x00, 0x00,
	0x2A, 0xD7, 0xB1, 0x83, 0x00, 0xF7, 0xCF, 0x00,

	// Tracks
	0x16, 0x54, 0xAE, 0x6B,
	0x01, 0x00, 0x00, 0x00,

	// TrackEntry
	0xAE,
	0x01, 0x00, 0x00, 0x00,
	0xD7, 0x81, 0x01, // TrackNumber
	0x73, 0xC5, 0x81, 0x02, // TrackType audio
	0x86, 0x85, 0x41, 0x75, 0x64, 0x69, 0x6F, // Name "Audio"
	0x83, 0x81, 0x01, // TrackUID

	// Audio
	0xE1,
	0x88,
	0xB5, 0x81, 0x02,
	0x9F, 0x81, 0x02, // Channels

	// Cluster
	0x1F, 0x43, 0xB6, 0x75,
	0x01, 0x00, 0x00, 0x00,
}

// HeaderSize is the length of the synthetic header prepended by Repair.
var HeaderSize = len(minimalWebMHeader)

// RepairDetails explains what Repair attempted.
type RepairDetails struct {
	Message      string `json:"message"`
	OriginalSize int64  `json:"original_size"`
	FixedSize    int64  `json:"fixed_size,omitempty"`
	Result
}

// RepairResult carries the blob to use after a repair attempt.
type RepairResult struct {
	Fixed   bool          `json:"fixed"`
	Blob    *Blob         `json:"-"`
	Details RepairDetails `json:"details"`
}

// Repair prepends a minimal WebM header to a blob that fails validation and re-validates it.
// The output only guarantees the container parses, not that the audio plays.
func (v *Validator) Repair(b *Blob) RepairResult {
	analysis := v.Validate(b)
	if analysis.Valid {
		return RepairResult{
			Fixed: false,
			Blob:  b,
			Details: RepairDetails{
				Message:      "File already has valid WebM structure",
				OriginalSize: b.Size(),
				Result:       analysis,
			},
		}
	}

	combined := make([]byte, 0, len(minimalWebMHeader)+int(b.Size()))
	combined = append(combined, minimalWebMHeader...)
	combined = append(combined, b.head(int(b.Size()))...)
	candidate := NewBlob(combined, RepairedType)

	fixed := v.Validate(candidate)
	details := RepairDetails{
		OriginalSize: b.Size(),
		FixedSize:    candidate.Size(),
		Result:       fixed,
	}

	if !fixed.Valid {
		details.Message = "Attempted repair failed - file may be corrupted beyond recovery"
		v.logger.Warn().Int64("size", b.Size()).Str("error", fixed.Error).Msg("webm repair failed")
		return RepairResult{Fixed: false, Blob: b, Details: details}
	}

	details.Message = "Successfully repaired WebM file by adding proper header"
	v.logger.Info().Int64("original_size", b.Size()).Int64("fixed_size", candidate.Size()).Msg("webm header repaired")
	return RepairResult{Fixed: true, Blob: candidate, Details: details}
}
