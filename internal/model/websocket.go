package model

// WebSocket message types
const (
	WSMessageTypeSubmitted = "submitted"
	WSMessageTypeProgress  = "progress"
	WSMessageTypeComplete  = "complete"
	WSMessageTypeError     = "error"
	WSMessageTypePing      = "ping"
	WSMessageTypePong      = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSSubmittedMessage tells subscribers the placeholder id was replaced
type WSSubmittedMessage struct {
	Type          string    `json:"type"`
	JobID         string    `json:"jobId"`
	PlaceholderID string    `json:"placeholderId"`
	Status        JobStatus `json:"status"`
}

// WSProgressMessage represents a status observation
type WSProgressMessage struct {
	Type   string    `json:"type"`
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
	Poll   int       `json:"poll"`
}

// WSCompleteMessage represents job completion
type WSCompleteMessage struct {
	Type   string      `json:"type"`
	JobID  string      `json:"jobId"`
	Result interface{} `json:"result"`
}

// WSErrorMessage represents a terminal failure
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
