// Package health probes the dependencies a session needs and publishes the
// result to /readyz and the gRPC health service.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"speakloop/agent/internal/evaluator"
	"speakloop/agent/internal/history"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// Check is one named probe. A nil error means healthy.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// CheckAll runs every check and returns the combined status.
func CheckAll(ctx context.Context, checks ...Check) HealthStatus {
	out := HealthStatus{OK: true, CheckedAt: time.Now().UTC()}
	for _, c := range checks {
		start := time.Now()
		err := c.Probe(ctx)
		r := CheckResult{Name: c.Name, OK: err == nil, Latency: time.Since(start)}
		if err != nil {
			r.Error = err.Error()
			out.OK = false
		}
		out.Checks = append(out.Checks, r)
	}
	return out
}

func HistoryCheck(h history.Store) Check {
	return Check{Name: "history", Probe: h.Ping}
}

// EvaluatorCheck lists models on the configured endpoint. The echo
// evaluator is always healthy.
func EvaluatorCheck(cfg evaluator.Config) Check {
	return Check{Name: "evaluator", Probe: func(ctx context.Context) error {
		if cfg.Mode != evaluator.ModeOpenAI {
			return nil
		}
		if cfg.APIKey == "" {
			return errors.New("OPENAI_API_KEY not set")
		}
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		oc.HTTPClient = &http.Client{Timeout: 10 * time.Second}
		if cfg.HTTPClient != nil {
			oc.HTTPClient = cfg.HTTPClient
		}
		_, err := openai.NewClientWithConfig(oc).ListModels(ctx)
		return errors.Wrap(err, "list models")
	}}
}

// Monitor re-runs the checks on an interval, keeps the latest status and
// mirrors it into a gRPC health server.
type Monitor struct {
	checks  []Check
	grpc    *grpchealth.Server
	service string
	log     zerolog.Logger

	mu   sync.RWMutex
	last HealthStatus
}

func NewMonitor(grpc *grpchealth.Server, service string, log zerolog.Logger, checks ...Check) *Monitor {
	return &Monitor{
		checks:  checks,
		grpc:    grpc,
		service: service,
		log:     log.With().Str("component", "health").Logger(),
	}
}

// Refresh runs the checks once.
func (m *Monitor) Refresh(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	st := CheckAll(ctx, m.checks...)

	m.mu.Lock()
	changed := m.last.CheckedAt.IsZero() || m.last.OK != st.OK
	m.last = st
	m.mu.Unlock()

	if m.grpc != nil {
		serving := healthpb.HealthCheckResponse_SERVING
		if !st.OK {
			serving = healthpb.HealthCheckResponse_NOT_SERVING
		}
		m.grpc.SetServingStatus(m.service, serving)
		m.grpc.SetServingStatus("", serving)
	}
	if changed {
		ev := m.log.Info()
		if !st.OK {
			ev = m.log.Warn()
		}
		ev.Bool("ok", st.OK).Msg("readiness changed")
	}
	return st
}

func (m *Monitor) Status() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Run refreshes every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, every time.Duration) error {
	m.Refresh(ctx)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.Refresh(ctx)
		}
	}
}
