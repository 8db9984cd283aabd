package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage carries a phase transition for job subscribers.
type WSProgressMessage struct {
	Type     string      `json:"type"`
	JobID    string      `json:"jobId"`
	Status   StoryStatus `json:"status"`
	Phase    Phase       `json:"phase"`
	Progress float64     `json:"progress"`
	Message  string      `json:"message,omitempty"`
}

// WSCompleteMessage announces job completion with the finished story.
type WSCompleteMessage struct {
	Type   string      `json:"type"`
	JobID  string      `json:"jobId"`
	Result interface{} `json:"result"`
}

// WSErrorMessage represents a terminal job error.
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
