package turn

import (
	"sync"
	"time"
)

type EventType string

const (
	EventState    EventType = "state"
	EventGhost    EventType = "ghost"
	EventCaption  EventType = "caption"
	EventMessage  EventType = "message"
	EventError    EventType = "error"
	EventBargeIn  EventType = "barge_in"
	EventWatchdog EventType = "watchdog"
	EventCommand  EventType = "command"
)

// Event is delivered to subscribers in the order the controller produced it.
// Only the fields relevant to Type are set.
type Event struct {
	Type  EventType `json:"type"`
	Token string    `json:"token,omitempty"`
	At    time.Time `json:"at"`

	From State `json:"from,omitempty"`
	To   State `json:"to,omitempty"`

	Ghost   *Ghost   `json:"ghost,omitempty"`
	Caption string   `json:"caption,omitempty"`
	Message *Message `json:"message,omitempty"`
	Err     *Error   `json:"error,omitempty"`

	Command string `json:"command,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// subscriber is either a bounded channel that drops on overflow or an
// unbounded mailbox that never drops.
type subscriber struct {
	ch  chan Event
	box *mailbox
}

func (s subscriber) send(ev Event) {
	if s.box != nil {
		s.box.push(ev)
		return
	}
	select {
	case s.ch <- ev:
	default:
		metricEventsDropped.Inc()
	}
}

func (s subscriber) close() {
	if s.box != nil {
		s.box.close()
		return
	}
	close(s.ch)
}

// emit runs on the loop goroutine.
func (c *Controller) emit(ev Event) {
	ev.At = time.Now().UTC()
	if ev.Token == "" && c.turn != nil {
		ev.Token = c.turn.Token
	}
	for _, sub := range c.subs {
		sub.send(ev)
	}
}

// Subscribe returns a channel receiving every subsequent event. Events are
// dropped rather than blocking the controller when the buffer is full. The
// channel is closed by unsubscribe or Dispose.
func (c *Controller) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = c.cfg.EventBuffer
	}
	ch := make(chan Event, buf)
	return ch, c.subscribe(subscriber{ch: ch})
}

// SubscribeAll is Subscribe without loss: events queue without bound until
// the reader takes them. The reader must drain the channel until it is
// closed.
func (c *Controller) SubscribeAll() (<-chan Event, func()) {
	box := newMailbox()
	return box.out, c.subscribe(subscriber{box: box})
}

func (c *Controller) subscribe(sub subscriber) func() {
	var id int
	err := c.do(func() {
		if c.disposed {
			sub.close()
			return
		}
		c.subSeq++
		id = c.subSeq
		c.subs[id] = sub
	})
	if err != nil {
		sub.close()
		return func() {}
	}
	return func() {
		_ = c.do(func() {
			if s, ok := c.subs[id]; ok {
				delete(c.subs, id)
				s.close()
			}
		})
	}
}

type mailbox struct {
	mu     sync.Mutex
	queue  []Event
	closed bool
	wake   chan struct{}
	out    chan Event
}

func newMailbox() *mailbox {
	m := &mailbox{wake: make(chan struct{}, 1), out: make(chan Event)}
	go m.run()
	return m
}

func (m *mailbox) push(ev Event) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, ev)
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// run delivers queued events in order and closes out once the mailbox is
// closed and empty.
func (m *mailbox) run() {
	defer close(m.out)
	for {
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		closed := m.closed
		m.mu.Unlock()
		if len(batch) == 0 {
			if closed {
				return
			}
			<-m.wake
			continue
		}
		for _, ev := range batch {
			m.out <- ev
		}
	}
}
