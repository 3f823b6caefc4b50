package dto

import "github.com/noah-isme/gema-speaking-api/internal/audio"

// NegotiationResponse reports the container chosen for a runtime.
type NegotiationResponse struct {
	Engine      string   `json:"engine"`
	MIMEType    string   `json:"mime_type"`
	Extension   string   `json:"extension"`
	Preferences []string `json:"preferences"`
}

// CompatibilityRequest lists what the browser's recorder reports as supported.
type CompatibilityRequest struct {
	UserAgent      string   `json:"user_agent" validate:"omitempty,max=1024"`
	SupportedTypes []string `json:"supported_types" validate:"max=64,dive,max=128"`
}

// CompatibilityResponse summarises recording support for a browser.
type CompatibilityResponse struct {
	Engine         string   `json:"engine"`
	SupportedTypes []string `json:"supported_types"`
	WebMSupported  bool     `json:"webm_supported"`
	Recommended    string   `json:"recommended"`
}

// ValidationResponse echoes the validator outcome with the sniffed content type.
type ValidationResponse struct {
	audio.Result
	SniffedType string `json:"sniffed_type"`
}

// RepairResponse describes a repair attempt.
type RepairResponse struct {
	Fixed       bool                `json:"fixed"`
	Type        string              `json:"type"`
	Size        int64               `json:"size"`
	Details     audio.RepairDetails `json:"details"`
	SniffedType string              `json:"sniffed_type"`
	BlobURL     string              `json:"blob_url,omitempty"`
}
