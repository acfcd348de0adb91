package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"speakloop/agent/internal/turn"
)

// textSpeech "speaks" by printing the utterance and holding the floor for
// a reading time proportional to its length.
type textSpeech struct {
	out     io.Writer
	perRune time.Duration

	mu       sync.Mutex
	speaking bool
	cancel   context.CancelFunc
}

func (s *textSpeech) Speak(ctx context.Context, text string, _ turn.SpeakOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.speaking, s.cancel = true, cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		s.speaking = false
		s.mu.Unlock()
	}()

	fmt.Fprintf(s.out, "assistant> %s\n", text)
	d := time.Duration(utf8.RuneCountInString(text)) * s.perRune
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
	return nil
}

func (s *textSpeech) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *textSpeech) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// lineCapture treats each stdin line as one utterance. A line typed while
// the assistant is speaking reports recording activity first, which is the
// barge-in signal.
type lineCapture struct {
	speech *textSpeech
	lines  chan string
	stop   chan struct{}

	mu        sync.Mutex
	recording bool
	subs      map[int]func(turn.CaptureState)
	subSeq    int
}

func newLineCapture(speech *textSpeech) *lineCapture {
	return &lineCapture{
		speech: speech,
		lines:  make(chan string, 8),
		stop:   make(chan struct{}, 1),
		subs:   make(map[int]func(turn.CaptureState)),
	}
}

// Feed reads r until EOF. Lines for which intercept returns true are not
// treated as speech.
func (c *lineCapture) Feed(r io.Reader, intercept func(string) bool) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if intercept(line) {
			continue
		}
		if c.speech.IsSpeaking() {
			c.notify(turn.CaptureRecording)
		}
		c.lines <- line
	}
	close(c.lines)
}

func (c *lineCapture) StartRecording(ctx context.Context) (turn.Transcript, error) {
	c.mu.Lock()
	c.recording = true
	c.mu.Unlock()
	c.notify(turn.CaptureRecording)
	defer func() {
		c.mu.Lock()
		c.recording = false
		c.mu.Unlock()
		c.Cleanup()
		c.notify(turn.CaptureIdle)
	}()
	select {
	case line, ok := <-c.lines:
		if !ok {
			return turn.Transcript{}, turn.ErrUnavailable
		}
		return turn.Transcript{Text: line, Confidence: 1}, nil
	case <-c.stop:
		return turn.Transcript{}, nil
	case <-ctx.Done():
		return turn.Transcript{}, ctx.Err()
	}
}

func (c *lineCapture) StopRecording() {
	c.mu.Lock()
	active := c.recording
	c.mu.Unlock()
	if !active {
		return
	}
	select {
	case c.stop <- struct{}{}:
	default:
	}
}

func (c *lineCapture) Cleanup() {
	for {
		select {
		case <-c.stop:
		default:
			return
		}
	}
}

func (c *lineCapture) OnState(cb func(turn.CaptureState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subSeq++
	id := c.subSeq
	c.subs[id] = cb
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *lineCapture) notify(s turn.CaptureState) {
	c.mu.Lock()
	cbs := make([]func(turn.CaptureState), 0, len(c.subs))
	for _, cb := range c.subs {
		cbs = append(cbs, cb)
	}
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(s)
	}
}
