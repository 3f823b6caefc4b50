package audio

// DefaultExtension is used for containers outside the known set.
const DefaultExtension = "m4a"

var extensions = map[string]string{
	"audio/webm": "webm",
	"audio/mp4":  "m4a",
	"audio/mpeg": "mp3",
	"audio/wav":  "wav",
	"audio/ogg":  "ogg",
}

// LookupExtension maps a MIME type, parameters ignored, to a file extension.
// The boolean is false when DefaultExtension was substituted.
func LookupExtension(mimeType string) (string, bool) {
	if ext, ok := extensions[BaseType(mimeType)]; ok {
		return ext, true
	}
	return DefaultExtension, false
}

// DeriveExtension is LookupExtension without the known flag.
func DeriveExtension(mimeType string) string {
	ext, _ := LookupExtension(mimeType)
	return ext
}
