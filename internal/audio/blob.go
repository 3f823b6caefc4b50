package audio

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Blob is an immutable audio payload tagged with its declared MIME type.
type Blob struct {
	data []byte
	typ  string
}

// NewBlob wraps the payload without copying it. Callers must not mutate data afterwards.
func NewBlob(data []byte, mimeType string) *Blob {
	return &Blob{data: data, typ: strings.TrimSpace(mimeType)}
}

// Concat joins chunks in order into a single blob.
func Concat(chunks [][]byte, mimeType string) *Blob {
	total := 0
	for _, chunk := range chunks {
		total += len(chunk)
	}
	data := make([]byte, 0, total)
	for _, chunk := range chunks {
		data = append(data, chunk...)
	}
	return NewBlob(data, mimeType)
}

// Size returns the payload length in bytes.
func (b *Blob) Size() int64 {
	if b == nil {
		return 0
	}
	return int64(len(b.data))
}

// Type returns the declared MIME type, parameters included.
func (b *Blob) Type() string {
	if b == nil {
		return ""
	}
	return b.typ
}

// Bytes returns a copy of the payload.
func (b *Blob) Bytes() []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// head returns up to n leading bytes without copying.
func (b *Blob) head(n int) []byte {
	if b == nil {
		return nil
	}
	if n > len(b.data) {
		n = len(b.data)
	}
	return b.data[:n]
}

// BaseType returns the lower-cased MIME type without parameters.
func BaseType(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// Sniff reports the content type detected from the payload bytes, independent of the declared type.
func Sniff(b *Blob) string {
	if b == nil || len(b.data) == 0 {
		return ""
	}
	return mimetype.Detect(b.data).String()
}
