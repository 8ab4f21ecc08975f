package types

// ErrorPayload is the structured shape every degraded upstream maps to.
// FallbackIframe, when set, points at the upstream's own UI so the panel
// can render a link instead of an empty box.
type ErrorPayload struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	FallbackIframe string `json:"fallback_iframe,omitempty"`
}

func NewErrorPayload(msg, fallback string) ErrorPayload {
	return ErrorPayload{Status: "error", Message: msg, FallbackIframe: fallback}
}
