package models

import "strings"

// Attachment is the single file a session reasons about.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	// Payload is a base64 data URI when IsBinary is set, decoded UTF-8 text otherwise.
	Payload  string `json:"-"`
	IsBinary bool   `json:"is_binary"`
	Size     int64  `json:"size"`
}

// InlineData returns the base64 body of a binary payload, stripping a data URI prefix if present.
func (a *Attachment) InlineData() string {
	if !strings.HasPrefix(a.Payload, "data:") {
		return a.Payload
	}
	if idx := strings.IndexByte(a.Payload, ','); idx >= 0 {
		// an empty file leaves nothing after the comma
		return a.Payload[idx+1:]
	}
	return a.Payload
}
