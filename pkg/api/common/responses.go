package common

// ErrorResponse is the error body returned by the viewer host
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse wraps a successful result
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Error codes used by the viewer host
const (
	CodeNotFound     = "NOT_FOUND"
	CodeInvalid      = "INVALID_REQUEST"
	CodeRejected     = "STREAM_REJECTED"
	CodeUpstream     = "UPSTREAM_UNAVAILABLE"
	CodeNotConnected = "NOT_CONNECTED"
	CodeDisposed     = "VIEWER_DISPOSED"
)
