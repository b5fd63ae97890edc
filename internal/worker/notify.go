package worker

// Message forwarded to the editing client over the WebSocket bridge
// (published on Redis Pub/Sub, channel user_notify:<user_id>). Field names
// must stay in sync with the frontend parser.
type PhotoProcessNotifyMessage struct {
	Status        string `json:"status"`
	ResumeID      uint   `json:"resume_id"`
	ObjectKey     string `json:"object_key,omitempty"`
	CorrelationID string `json:"correlation_id"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message,omitempty"`
}
