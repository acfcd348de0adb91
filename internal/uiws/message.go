// Package uiws carries the websocket link between a session and the browser
// that renders it, plays its speech and records its user.
package uiws

// Message is the envelope used in both directions.
type Message struct {
	Type        string         `json:"type"`
	TsMs        int64          `json:"ts_ms"`
	SessionID   string         `json:"session_id"`
	Seq         int64          `json:"seq"`
	CommandID   string         `json:"command_id,omitempty"`
	UtteranceID string         `json:"utterance_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Str returns a string payload field or "".
func (m Message) Str(key string) string {
	if m.Payload == nil {
		return ""
	}
	s, _ := m.Payload[key].(string)
	return s
}

// Float returns a numeric payload field or 0.
func (m Message) Float(key string) float64 {
	if m.Payload == nil {
		return 0
	}
	switch v := m.Payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
