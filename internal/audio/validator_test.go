package audio

import (
	"bytes"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testValidator() *Validator {
	return NewValidator(DefaultMinSize, zerolog.New(io.Discard))
}

func webmPayload(size int) []byte {
	payload := bytes.Repeat([]byte{0x42}, size)
	copy(payload, ebmlMagic)
	return payload
}

func TestValidateRejectsEmpty(t *testing.T) {
	v := testValidator()

	result := v.Validate(nil)
	require.False(t, result.Valid)
	require.Equal(t, "Empty audio file", result.Error)

	result = v.Validate(NewBlob(nil, "audio/webm"))
	require.False(t, result.Valid)
	require.Equal(t, "Empty audio file", result.Error)
	require.ErrorIs(t, result.Err(), ErrInvalidAudio)
}

func TestValidateRejectsUnsupportedType(t *testing.T) {
	result := testValidator().Validate(NewBlob(webmPayload(500), "video/quicktime"))
	require.False(t, result.Valid)
	require.Contains(t, result.Error, "Unsupported MIME type: video/quicktime")
}

func TestValidateSizeFloorAppliesToEveryType(t *testing.T) {
	v := testValidator()
	for _, mimeType := range []string{"audio/webm", "audio/mp4", "audio/mpeg", "audio/wav", "audio/ogg", "audio/webm;codecs=opus"} {
		for _, size := range []int{1, 4, 100, 199} {
			result := v.Validate(NewBlob(webmPayload(size), mimeType))
			require.False(t, result.Valid, "%s/%d", mimeType, size)
			require.Equal(t, "Audio file too small, likely missing header", result.Error)
		}
	}
}

func TestValidateWebMSignature(t *testing.T) {
	v := testValidator()

	good := v.Validate(NewBlob(webmPayload(200), "audio/webm;codecs=opus"))
	require.True(t, good.Valid)
	require.Equal(t, int64(200), good.Size)
	require.Equal(t, "audio/webm;codecs=opus", good.Type)

	bad := webmPayload(400)
	bad[2] = 0x00
	result := v.Validate(NewBlob(bad, "audio/webm"))
	require.False(t, result.Valid)
	require.Equal(t, "Invalid WebM header signature", result.Error)
}

func TestValidateMP4WithoutFtypStillPasses(t *testing.T) {
	v := testValidator()

	withFtyp := bytes.Repeat([]byte{0}, 300)
	copy(withFtyp[4:], "ftypM4A ")
	require.True(t, v.Validate(NewBlob(withFtyp, "audio/mp4")).Valid)

	withoutFtyp := bytes.Repeat([]byte{0}, 300)
	require.True(t, v.Validate(NewBlob(withoutFtyp, "audio/mp4;codecs=mp4a.40.2")).Valid)
}

func TestValidateSkipsStructureForOtherTypes(t *testing.T) {
	payload := bytes.Repeat([]byte{0xFF}, 256)
	require.True(t, testValidator().Validate(NewBlob(payload, "audio/ogg")).Valid)
	require.True(t, testValidator().Validate(NewBlob(payload, "audio/wav")).Valid)
}

func TestValidateIsDeterministicAndDoesNotMutate(t *testing.T) {
	v := testValidator()
	payload := webmPayload(512)
	snapshot := append([]byte(nil), payload...)
	blob := NewBlob(payload, "audio/webm")

	first := v.Validate(blob)
	second := v.Validate(blob)

	require.Equal(t, first, second)
	require.Equal(t, int64(512), blob.Size())
	require.Equal(t, "audio/webm", blob.Type())
	require.Equal(t, snapshot, payload)
}

func TestValidatorConfigurableFloor(t *testing.T) {
	v := NewValidator(1024, zerolog.New(io.Discard))
	require.False(t, v.Validate(NewBlob(webmPayload(600), "audio/webm")).Valid)
	require.True(t, v.Validate(NewBlob(webmPayload(1024), "audio/webm")).Valid)
	require.Equal(t, int64(DefaultMinSize), NewValidator(0, zerolog.New(io.Discard)).MinSize())
}

func TestSniffDetectsWebM(t *testing.T) {
	require.Empty(t, Sniff(nil))
	require.Equal(t, "text/plain; charset=utf-8", Sniff(NewBlob([]byte("hello world"), "audio/webm")))
}
