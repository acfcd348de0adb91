package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesJSONToNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	Setup("debug", &buf)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	turnLog := For("turn")
	turnLog.Debug().Str("token", "t1").Msg("state")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "turn", line["component"])
	require.Equal(t, "t1", line["token"])
	require.Equal(t, "debug", line["level"])
}

func TestSetupFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	Setup("chatty", &buf)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	apiLog := For("api")
	apiLog.Debug().Msg("hidden")
	require.Zero(t, buf.Len())
}
