package audio

import (
	"strings"

	"github.com/mssola/user_agent"
)

// Engine is the browser family used to pick a recording container.
type Engine string

const (
	EngineSafari  Engine = "safari"
	EngineChrome  Engine = "chrome"
	EngineFirefox Engine = "firefox"
	EngineOther   Engine = "other"
)

// DefaultMIME is returned when the runtime reports no supported container at all.
const DefaultMIME = "audio/webm"

var (
	safariPreferences = []string{
		"audio/mp4;codecs=mp4a.40.2",
		"audio/mp4",
		"audio/webm;codecs=opus",
		"audio/webm",
	}
	chromePreferences = []string{
		"audio/webm;codecs=opus",
		"audio/webm",
		"audio/ogg;codecs=opus",
		"audio/mp4",
	}
	firefoxPreferences = []string{
		"audio/webm;codecs=opus",
		"audio/ogg;codecs=opus",
		"audio/webm",
		"audio/ogg",
	}
	fallbackPreferences = []string{
		"audio/webm",
		"audio/mp4",
		"audio/ogg",
		"audio/mpeg",
	}
)

// CapabilityProvider reports whether the capture runtime can record a MIME type.
type CapabilityProvider interface {
	IsSupported(mimeType string) bool
}

// SupportedSet is a CapabilityProvider backed by the list a client reported.
type SupportedSet map[string]struct{}

// NewSupportedSet normalises reported types for case-insensitive lookups.
func NewSupportedSet(types ...string) SupportedSet {
	set := make(SupportedSet, len(types))
	for _, t := range types {
		normalized := normalizeMIME(t)
		if normalized != "" {
			set[normalized] = struct{}{}
		}
	}
	return set
}

// IsSupported implements CapabilityProvider.
func (s SupportedSet) IsSupported(mimeType string) bool {
	_, ok := s[normalizeMIME(mimeType)]
	return ok
}

// Types returns the reported types in no particular order.
func (s SupportedSet) Types() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	return out
}

// ClassifyEngine maps a user-agent string onto an engine family. Every iOS browser runs WebKit,
// so iOS wins over the reported browser name.
func ClassifyEngine(userAgent string) Engine {
	if strings.TrimSpace(userAgent) == "" {
		return EngineOther
	}
	if strings.Contains(userAgent, "iPhone") || strings.Contains(userAgent, "iPad") || strings.Contains(userAgent, "iPod") {
		return EngineSafari
	}

	ua := user_agent.New(userAgent)
	name, _ := ua.Browser()
	switch {
	case name == "Firefox" || strings.Contains(userAgent, "Firefox/"):
		return EngineFirefox
	case name == "Safari":
		return EngineSafari
	case name == "Chrome" || name == "Chromium" || strings.Contains(userAgent, "Chrome/"):
		return EngineChrome
	default:
		return EngineOther
	}
}

// Preferences returns the ordered candidate list for an engine.
func Preferences(engine Engine) []string {
	var list []string
	switch engine {
	case EngineSafari:
		list = safariPreferences
	case EngineFirefox:
		list = firefoxPreferences
	default:
		list = chromePreferences
	}
	return append([]string(nil), list...)
}

// Negotiate picks the recording MIME type for the runtime. It never fails: when nothing is
// supported it returns DefaultMIME and lets capture fail downstream.
func Negotiate(userAgent string, caps CapabilityProvider) string {
	if caps == nil {
		return DefaultMIME
	}
	for _, candidate := range Preferences(ClassifyEngine(userAgent)) {
		if caps.IsSupported(candidate) {
			return candidate
		}
	}
	for _, candidate := range fallbackPreferences {
		if caps.IsSupported(candidate) {
			return candidate
		}
	}
	return DefaultMIME
}

func normalizeMIME(mimeType string) string {
	parts := strings.Split(mimeType, ";")
	for i, part := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(part))
	}
	return strings.Join(parts, ";")
}
