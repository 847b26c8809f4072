package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeClip     = "clip"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage represents a progress update
type WSProgressMessage struct {
	Type             string          `json:"type"`
	JobID            string          `json:"jobId"`
	Status           CompositeStatus `json:"status"`
	CurrentClipIndex int             `json:"currentClipIndex"`
	TotalClips       int             `json:"totalClips"`
	CurrentStep      string          `json:"currentStep,omitempty"`
}

// WSClipMessage reports a clip state change
type WSClipMessage struct {
	Type       string     `json:"type"`
	JobID      string     `json:"jobId"`
	ClipIndex  int        `json:"clipIndex"`
	ClipStatus ClipStatus `json:"clipStatus"`
}

// WSCompleteMessage represents job completion
type WSCompleteMessage struct {
	Type   string      `json:"type"`
	JobID  string      `json:"jobId"`
	Result interface{} `json:"result"`
}

// WSErrorMessage represents an error
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
