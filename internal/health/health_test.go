package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"speakloop/agent/internal/evaluator"
	"speakloop/agent/internal/history"
)

func TestCheckAll(t *testing.T) {
	st := CheckAll(context.Background(),
		HistoryCheck(history.NewMemoryStore()),
		Check{Name: "broken", Probe: func(context.Context) error { return errors.New("down") }},
	)
	assert.False(t, st.OK)
	require.Len(t, st.Checks, 2)
	assert.True(t, st.Checks[0].OK)
	assert.Equal(t, "down", st.Checks[1].Error)
	assert.True(t, strings.Contains(st.String(), "FAIL"))
}

func TestEvaluatorCheck(t *testing.T) {
	assert.NoError(t, EvaluatorCheck(evaluator.Config{Mode: evaluator.ModeEcho}).Probe(context.Background()))
	assert.Error(t, EvaluatorCheck(evaluator.Config{Mode: evaluator.ModeOpenAI}).Probe(context.Background()))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"m","object":"model"}]}`))
	}))
	defer srv.Close()
	chk := EvaluatorCheck(evaluator.Config{Mode: evaluator.ModeOpenAI, APIKey: "k", BaseURL: srv.URL})
	assert.NoError(t, chk.Probe(context.Background()))
}

func TestMonitorMirrorsIntoGRPC(t *testing.T) {
	hs := grpchealth.NewServer()
	healthy := true
	m := NewMonitor(hs, "speakloop", zerolog.Nop(), Check{Name: "flag", Probe: func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("off")
	}})

	require.True(t, m.Refresh(context.Background()).OK)
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "speakloop"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	healthy = false
	require.False(t, m.Refresh(context.Background()).OK)
	resp, err = hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "speakloop"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
	assert.False(t, m.Status().OK)
}
