package main

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speakloop/agent/internal/turn"
)

func TestTextSpeechStop(t *testing.T) {
	s := &textSpeech{out: io.Discard, perRune: time.Second}
	done := make(chan error, 1)
	go func() { done <- s.Speak(context.Background(), "a long sentence", turn.SpeakOptions{}) }()
	require.Eventually(t, s.IsSpeaking, time.Second, 5*time.Millisecond)
	s.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop did not release Speak")
	}
	assert.False(t, s.IsSpeaking())
}

func TestLineCapture(t *testing.T) {
	s := &textSpeech{out: io.Discard}
	c := newLineCapture(s)
	var intercepted []string
	go c.Feed(strings.NewReader("hello\n/pause\nbye\n"), func(l string) bool {
		if strings.HasPrefix(l, "/") {
			intercepted = append(intercepted, l)
			return true
		}
		return false
	})

	tr, err := c.StartRecording(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", tr.Text)
	tr, err = c.StartRecording(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bye", tr.Text)

	_, err = c.StartRecording(context.Background())
	assert.ErrorIs(t, err, turn.ErrUnavailable, "EOF closes the capture")
	assert.Equal(t, []string{"/pause"}, intercepted)
}
