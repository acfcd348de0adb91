package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexAddHasRemove(t *testing.T) {
	x := New()
	require.False(t, x.Has("k1"))
	require.True(t, x.Add("k1"))
	require.False(t, x.Add("k1"), "second add must report duplicate")
	require.True(t, x.Has("k1"))
	require.Equal(t, 1, x.Len())

	x.Remove("k1")
	require.False(t, x.Has("k1"))
	require.True(t, x.Add("k1"), "removed key can be added again")
}

func TestIndexLatestTracksRemovals(t *testing.T) {
	x := New()
	_, ok := x.Latest()
	require.False(t, ok)

	x.Add("a")
	x.Add("b")
	x.Add("c")
	got, _ := x.Latest()
	assert.Equal(t, "c", got)

	x.Remove("c")
	got, _ = x.Latest()
	assert.Equal(t, "b", got)

	x.Remove("a")
	got, _ = x.Latest()
	assert.Equal(t, "b", got)
}

func TestContentHashIgnoresRenderingNoise(t *testing.T) {
	a := ContentHash("Hello,   <b>world</b>\n“hi”")
	b := ContentHash(`Hello, world "hi"`)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, ContentHash("Hello, world"))
}

func TestFingerprintCombinesIDAndContent(t *testing.T) {
	assert.Equal(t, "msg-7:"+ContentHash("anything"), Fingerprint("msg-7", "anything"))
	assert.Equal(t, ContentHash("some text"), Fingerprint("  ", "some text"))
	assert.Equal(t, Fingerprint("msg-7", "Hello  world"), Fingerprint("msg-7", "Hello world"))
	assert.NotEqual(t, Fingerprint("msg-7", "first reply"), Fingerprint("msg-7", "second reply"),
		"reused id with new text is a new message")
}
