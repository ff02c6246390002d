package uhc

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"
)

// Relay is an upstream response as received: status, content type and raw
// body. The gateway decides how to re-wrap it.
type Relay struct {
	Status      int
	ContentType string
	Body        []byte
}

// OK reports a 2xx status.
func (r *Relay) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// IsImage reports whether the body is binary image data.
func (r *Relay) IsImage() bool {
	mt, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		mt = strings.ToLower(r.ContentType)
	}
	return strings.HasPrefix(mt, "image/")
}

// JSON returns the body when it is valid JSON.
func (r *Relay) JSON() (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(string(r.Body))
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return nil, false
	}
	return json.RawMessage(trimmed), true
}

// Data is the success payload: the parsed JSON body, or the raw text wrapped
// as {"message": text}.
func (r *Relay) Data() any {
	if raw, ok := r.JSON(); ok {
		return raw
	}
	return map[string]string{"message": string(r.Body)}
}

// Message returns the body as a JSON value: the parsed body if it is JSON,
// otherwise the raw text as a JSON string.
func (r *Relay) Message() json.RawMessage {
	if raw, ok := r.JSON(); ok {
		return raw
	}
	text, _ := json.Marshal(string(r.Body))
	return text
}

// ErrorMessage picks the most useful human-readable message from an error
// response: a "message" style field of the object (or of the first array
// element), then the raw text, then the status text.
func (r *Relay) ErrorMessage() string {
	if raw, ok := r.JSON(); ok {
		if msg := messageFrom(raw); msg != "" {
			return msg
		}
	}
	if text := strings.TrimSpace(string(r.Body)); text != "" {
		return text
	}
	if text := http.StatusText(r.Status); text != "" {
		return text
	}
	return "upstream request failed"
}

var messageKeys = []string{"message", "detail", "error_description", "errorMessage", "error"}

func messageFrom(raw json.RawMessage) string {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return ""
		}
		return messageFrom(list[0])
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
		return ""
	}
	for _, key := range messageKeys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(v, &s) == nil && s != "" {
			return s
		}
		if nested := messageFrom(v); nested != "" {
			return nested
		}
	}
	return ""
}
