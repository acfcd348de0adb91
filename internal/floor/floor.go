package floor

import "time"

// Decision represents the action the floor manager wants to take.
type Decision struct {
	ShouldStop bool
	StopToken  string
	Reason     string // "barge_in", "user_interrupt" or "guard_window"
}

// Manager tracks who holds the audio floor for one session and decides when
// user activity should cut the assistant off. It is not safe for concurrent
// use; the turn controller drives it from its event loop.
type Manager struct {
	guard time.Duration

	speaking       bool
	activeToken    string
	speechStarted  time.Time
	lastActivityAt time.Time
	stopRequested  bool
}

// New returns a manager that ignores capture activity for guard after speech
// starts, so the assistant's own audio onset is not mistaken for the user.
func New(guard time.Duration) *Manager { return &Manager{guard: guard} }

func (m *Manager) OnSpeechStarted(token string, at time.Time) Decision {
	m.speaking = true
	m.activeToken = token
	m.speechStarted = at
	m.stopRequested = false
	return Decision{}
}

func (m *Manager) OnSpeechStopped(token string, at time.Time) Decision {
	// Regardless of token match, stopping clears speaking.
	m.speaking = false
	m.activeToken = ""
	m.stopRequested = false
	return Decision{}
}

// OnCaptureActivity handles a capture adapter reporting that the user is
// talking.
func (m *Manager) OnCaptureActivity(at time.Time) Decision {
	m.lastActivityAt = at
	if !m.speaking || m.stopRequested {
		return Decision{}
	}
	if m.guard > 0 && at.Sub(m.speechStarted) < m.guard {
		return Decision{Reason: "guard_window"}
	}
	m.stopRequested = true
	return Decision{ShouldStop: true, StopToken: m.activeToken, Reason: "barge_in"}
}

// OnUserInterrupt handles an explicit interrupt request; the guard window
// does not apply.
func (m *Manager) OnUserInterrupt(at time.Time) Decision {
	m.lastActivityAt = at
	if !m.speaking || m.stopRequested {
		return Decision{}
	}
	m.stopRequested = true
	return Decision{ShouldStop: true, StopToken: m.activeToken, Reason: "user_interrupt"}
}

func (m *Manager) Speaking() bool { return m.speaking }

// Reset drops all floor state, e.g. after pause.
func (m *Manager) Reset() {
	guard := m.guard
	*m = Manager{guard: guard}
}
