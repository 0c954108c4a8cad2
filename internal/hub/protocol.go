package hub

// Message types on the wire. Every frame is one JSON text message carrying a
// "type" discriminator.
const (
	// client → server
	TypeEnable       = "enable"
	TypeDisable      = "disable"
	TypeHold         = "hold"
	TypeSpeak        = "speak"
	TypeStopSpeaking = "stop_speaking"

	// server → client
	TypeStatus     = "status"
	TypeTranscript = "transcript"
	TypeError      = "error"
	TypeSpeaking   = "speaking"
)

// User-facing speak-back errors.
const (
	MsgSpeakUnavailable = "Speak back unavailable"
	MsgSpeakFailed      = "Speak back failed"
)

// inbound is any client message. Only the fields of its type are set.
type inbound struct {
	Type     string `json:"type"`
	Hold     bool   `json:"hold,omitempty"`
	ID       string `json:"id,omitempty"`
	Text     string `json:"text,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

type statusMessage struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Enabled bool   `json:"enabled"`
}

type transcriptMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Text string `json:"text"`
}

// errorMessage carries the reply ID when it concerns a speak request.
type errorMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// speakingMessage acknowledges a speak request with the reply ID.
type speakingMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}
