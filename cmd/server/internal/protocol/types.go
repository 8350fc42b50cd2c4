package protocol

const (
	ActionWatch      = "watch"
	ActionUnwatch    = "unwatch"
	ActionUnwatchAll = "unwatch_all"
)

type WSRequest struct {
	Action  string         `json:"action"`
	Payload RequestPayload `json:"payload"`
	ID      string         `json:"id,omitempty"`
}

type RequestPayload struct {
	Items []string `json:"items"` // numeric item ids, sent as strings
}

type WSResponse struct {
	Type    string      `json:"type"`             // "ack", "error", "price"
	ID      string      `json:"id,omitempty"`     // Matches request ID
	Status  string      `json:"status,omitempty"` // "success", "error"
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
