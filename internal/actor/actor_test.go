package actor

import "testing"

func TestLegalLifecycleTransitions(t *testing.T) {
	var events []StatusEvent
	a := New("e1", "0,0", func(e StatusEvent) { events = append(events, e) })

	steps := []Status{StatusActive, StatusBusy, StatusActive, StatusIdle}
	for _, to := range steps {
		if err := a.Transition(to, "test"); err != nil {
			t.Fatalf("Transition(%s): %v", to, err)
		}
	}
	if a.Status() != StatusIdle {
		t.Errorf("final status = %s, want idle", a.Status())
	}
	if len(events) != len(steps) {
		t.Fatalf("expected %d events, got %d", len(steps), len(events))
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	a := New("e1", "0,0", nil)
	if err := a.Transition(StatusBusy, "skip active"); err == nil {
		t.Fatal("expected error transitioning idle -> busy directly")
	}
	if a.Status() != StatusIdle {
		t.Errorf("status should be unchanged after a rejected transition, got %s", a.Status())
	}
}

func TestErrorTransitionFromAnyNonIdleState(t *testing.T) {
	a := New("e1", "0,0", nil)
	mustTransition(t, a, StatusActive)
	mustTransition(t, a, StatusError)
	if a.Status() != StatusError {
		t.Fatalf("status = %s, want error", a.Status())
	}
	mustTransition(t, a, StatusIdle)
}

func TestEnterRejectsReentrantInvocation(t *testing.T) {
	a := New("e1", "0,0", nil)
	mustTransition(t, a, StatusActive)
	if err := a.Enter("work"); err != nil {
		t.Fatalf("first Enter: %v", err)
	}
	if a.Status() != StatusBusy {
		t.Fatalf("status = %s, want busy", a.Status())
	}
	if err := a.Enter("work again"); err == nil {
		t.Fatal("expected reentrant Enter to be rejected while busy")
	}
}

func mustTransition(t *testing.T, a *Actor, to Status) {
	t.Helper()
	if err := a.Transition(to, "test"); err != nil {
		t.Fatalf("Transition(%s): %v", to, err)
	}
}
