package session

import (
	"testing"
	"time"
)

func TestResolveExactID(t *testing.T) {
	s := NewStore(6 * time.Hour)

	created, isNew := s.Resolve("", "192.168.8.50", "aa:bb:cc:dd:ee:ff")
	if !isNew {
		t.Fatal("first resolve should create a session")
	}

	got, isNew := s.Resolve(created.ID, "192.168.8.99", "")
	if isNew {
		t.Fatal("known id should not create a session")
	}
	if got.ID != created.ID {
		t.Errorf("expected session %s, got %s", created.ID, got.ID)
	}
}

func TestResolveSourceFallbackPicksMostRecentlyActive(t *testing.T) {
	current := time.Date(2025, 1, 10, 22, 0, 0, 0, time.UTC)
	s := NewStore(6 * time.Hour)
	s.now = func() time.Time { return current }

	first, _ := s.Resolve("", "192.168.8.50", "aa:aa:aa:aa:aa:aa")
	current = current.Add(time.Minute)
	second := s.Create("192.168.8.50", "aa:aa:aa:aa:aa:aa")
	if first.ID == second.ID {
		t.Fatal("expected two distinct sessions")
	}

	got, isNew := s.Resolve("unknown", "192.168.8.50", "aa:aa:aa:aa:aa:aa")
	if isNew {
		t.Fatal("fallback should not create a session")
	}
	if got.ID != second.ID {
		t.Errorf("expected most-recently-active session %s, got %s", second.ID, got.ID)
	}
}

func TestResolveCreatesWhenNoMatch(t *testing.T) {
	s := NewStore(6 * time.Hour)
	sess, isNew := s.Resolve("nope", "192.168.8.60", "")
	if !isNew {
		t.Fatal("expected a fresh session")
	}
	if sess.ID == "" || len(sess.ID) != 32 {
		t.Errorf("expected 32-char token, got %q", sess.ID)
	}
}

func TestAppendPreservesOrderAndCopies(t *testing.T) {
	s := NewStore(6 * time.Hour)
	sess, _ := s.Resolve("", "10.0.0.1", "")

	s.Append(sess.ID, Turn{Role: RoleUser, Text: "first"})
	s.Append(sess.ID, Turn{Role: RoleAssistant, Text: "second"})
	s.Append(sess.ID, Turn{Role: RoleUser, Text: "third"})

	turns := s.Turns(sess.ID)
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[0].Text != "first" || turns[2].Text != "third" {
		t.Error("turn order not preserved")
	}

	turns[0].Text = "mutated"
	if s.Turns(sess.ID)[0].Text != "first" {
		t.Error("Turns should return a copy")
	}
}

func TestIncrementClarifications(t *testing.T) {
	s := NewStore(6 * time.Hour)
	sess, _ := s.Resolve("", "10.0.0.1", "")

	for want := 1; want <= 3; want++ {
		if got := s.IncrementClarifications(sess.ID); got != want {
			t.Errorf("expected count %d, got %d", want, got)
		}
	}
	if got := s.Clarifications(sess.ID); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
}

func TestPruneEvictsIdleSessions(t *testing.T) {
	current := time.Date(2025, 1, 10, 22, 0, 0, 0, time.UTC)
	s := NewStore(time.Hour)
	s.now = func() time.Time { return current }

	stale, _ := s.Resolve("", "10.0.0.1", "")
	current = current.Add(30 * time.Minute)
	fresh, _ := s.Resolve("other", "10.0.0.2", "")

	current = current.Add(45 * time.Minute)
	if pruned := s.Prune(); pruned != 1 {
		t.Fatalf("expected 1 pruned session, got %d", pruned)
	}
	if _, ok := s.Get(stale.ID); ok {
		t.Error("stale session should be evicted")
	}
	if _, ok := s.Get(fresh.ID); !ok {
		t.Error("fresh session should survive")
	}
}

func TestNewIDUnique(t *testing.T) {
	a := NewID("aa:bb:cc:dd:ee:ff", "10.0.0.1")
	b := NewID("aa:bb:cc:dd:ee:ff", "10.0.0.1")
	if a == b {
		t.Error("tokens must never repeat for the same identity")
	}
}
