package obsmetrics

import (
	"testing"
	"time"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	if m := New("ainulindale", false); m != nil {
		t.Fatalf("expected nil Metrics when disabled, got %v", m)
	}
}

func TestNilMetricsMethodsAreNoOps(t *testing.T) {
	var m *Metrics
	m.RecordActorTransition("e1", "idle", "active")
	m.SetWorkQueueDepth("h1", 3)
	m.SetTaskQueueDepth("pending", 2)
	m.RecordToolCall("fs", "read_file", time.Millisecond)
	m.RecordToolError("fs", "read_file", "execution_failed")
	m.SetBudget(1, 0.5, 100, 50)
	if m.Registry() != nil {
		t.Error("expected nil registry for nil Metrics")
	}
}

func TestEnabledMetricsRegisterAndRecord(t *testing.T) {
	m := New("ainulindale_test", true)
	if m == nil {
		t.Fatal("expected non-nil Metrics when enabled")
	}
	m.RecordActorTransition("e1", "idle", "active")
	m.SetWorkQueueDepth("h1", 5)
	m.RecordToolCall("shell", "run_command", 2*time.Millisecond)
	if m.Registry() == nil {
		t.Error("expected non-nil registry")
	}
	if m.Handler() == nil {
		t.Error("expected non-nil handler")
	}
}
