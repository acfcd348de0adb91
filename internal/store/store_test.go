package store

import (
	"testing"
	"time"
)

func TestCreateAndGetSession(t *testing.T) {
	st := New(0)
	s := &Session{ID: "abc123", CreatedAt: time.Now()}
	if err := st.CreateSession(s); err != nil {
		t.Fatalf("create session: %v", err)
	}
	got := st.GetSession("abc123")
	if got == nil || got.ID != s.ID || got.Status != "active" {
		t.Fatalf("expected active session %q, got %#v", s.ID, got)
	}
	if err := st.CreateSession(&Session{ID: "abc123"}); err != ErrSessionExists {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestEndSession(t *testing.T) {
	st := New(0)
	_ = st.CreateSession(&Session{ID: "s1"})
	if err := st.EndSession("s1", time.Now()); err != nil {
		t.Fatalf("end: %v", err)
	}
	if got := st.GetSession("s1"); got.Status != "ended" || got.EndedAt == nil {
		t.Fatalf("expected ended session, got %#v", got)
	}
	if err := st.EndSession("nope", time.Now()); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestEventsAreCapped(t *testing.T) {
	st := New(5)
	_ = st.CreateSession(&Session{ID: "s1"})
	for i := 0; i < 8; i++ {
		st.AppendEvent("s1", "state", map[string]any{"i": i})
	}
	evs := st.ListEvents("s1")
	if len(evs) != 5 {
		t.Fatalf("expected 5 events, got %d", len(evs))
	}
	if evs[0].Type != EventsTruncated {
		t.Fatalf("expected truncation marker first, got %q", evs[0].Type)
	}
	if evs[0].Payload["dropped"] != 4 {
		t.Fatalf("expected 4 dropped, got %v", evs[0].Payload["dropped"])
	}
	if evs[len(evs)-1].Payload["i"] != 7 {
		t.Fatalf("expected newest event kept, got %v", evs[len(evs)-1].Payload)
	}
}

func TestLongRunKeepsOneTruncationMarker(t *testing.T) {
	st := New(10)
	_ = st.CreateSession(&Session{ID: "s1"})
	for i := 0; i < 40; i++ {
		st.AppendEvent("s1", "state", map[string]any{"i": i})
	}
	evs := st.ListEvents("s1")
	if len(evs) != 10 {
		t.Fatalf("expected 10 events, got %d", len(evs))
	}
	markers := 0
	for _, ev := range evs {
		if ev.Type == EventsTruncated {
			markers++
		}
	}
	if markers != 1 {
		t.Fatalf("expected 1 truncation marker, got %d", markers)
	}
	if evs[0].Payload["dropped"] != 31 {
		t.Fatalf("expected 31 dropped, got %v", evs[0].Payload["dropped"])
	}
	for k, ev := range evs[1:] {
		if ev.Payload["i"] != 31+k {
			t.Fatalf("event %d: expected i=%d, got %v", k, 31+k, ev.Payload["i"])
		}
	}
}

func TestAppendEventIgnoresUnknownSession(t *testing.T) {
	st := New(0)
	st.AppendEvent("ghost", "state", nil)
	if len(st.ListEvents("ghost")) != 0 {
		t.Fatalf("unknown session must not collect events")
	}
	_ = st.CreateSession(&Session{ID: "s1"})
	st.DeleteSession("s1")
	st.AppendEvent("s1", "late", nil)
	if len(st.ListEvents("s1")) != 0 || len(st.ListSessionIDs()) != 0 {
		t.Fatalf("deleted session must stay deleted")
	}
}

func TestDeleteSession(t *testing.T) {
	st := New(0)
	_ = st.CreateSession(&Session{ID: "s1"})
	st.AppendEvent("s1", "x", nil)
	st.DeleteSession("s1")
	if st.GetSession("s1") != nil || len(st.ListEvents("s1")) != 0 {
		t.Fatalf("session should be gone")
	}
}
