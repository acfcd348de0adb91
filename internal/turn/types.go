package turn

import "time"

// State is the controller's position in the dialogue cycle.
type State string

const (
	StateIdle       State = "IDLE"
	StateReading    State = "READING"
	StateListening  State = "LISTENING"
	StateProcessing State = "PROCESSING"
	StatePaused     State = "PAUSED"
)

type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Message is one authoritative entry of the conversation.
type Message struct {
	ID   string    `json:"id"`
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Ghost is the provisional bubble shown while an utterance with no backing
// Message is being spoken.
type Ghost struct {
	Key         string `json:"key"`
	Text        string `json:"text"`
	ContentHash string `json:"content_hash"`
}

// CaptureState is reported by the capture adapter. Only CaptureRecording has
// meaning to the controller; adapters may define more.
type CaptureState string

const (
	CaptureIdle      CaptureState = "idle"
	CaptureRecording CaptureState = "recording"
)

// Transcript is the result of one recording. Empty Text means nothing was
// captured.
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Snapshot is a point-in-time copy of the controller state for renderers.
type Snapshot struct {
	State           State     `json:"state"`
	Token           string    `json:"token,omitempty"`
	Ghost           *Ghost    `json:"ghost,omitempty"`
	Caption         string    `json:"caption,omitempty"`
	Messages        []Message `json:"messages"`
	PendingUserText string    `json:"pending_user_text,omitempty"`
	LastError       *Error    `json:"last_error,omitempty"`
	Disposed        bool      `json:"disposed,omitempty"`
}
