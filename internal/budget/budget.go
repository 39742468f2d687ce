// Package budget implements the Budget Tracker (spec §4.13): accumulates
// cost/token usage reported on every llm.response, emits budget.warning at
// 70% of either configured maximum and budget.exceeded at 100%, and resets
// its run counters on board.started.
package budget

import "sync"

const (
	warningThreshold = 0.70
	exceededFraction = 1.0
)

// Usage is the cost/token delta reported by a single llm.response.
type Usage struct {
	Dollars float64
	Tokens  int
}

// State is the tracker's observable snapshot.
type State struct {
	MaxDollars  float64
	MaxTokens   int
	TotalDollars float64
	TotalTokens  int
	RunDollars   float64
	RunTokens    int
}

// Tracker accumulates cost/token usage for a board and emits warning/
// exceeded events through emit. A zero Max field means that dimension is
// unlimited (spec §4.13, "If max = 0, the dimension is treated as
// unlimited").
type Tracker struct {
	mu    sync.Mutex
	state State
	emit  func(eventType string, data any)
}

// NewTracker creates a Tracker with the given dollar/token ceilings. emit
// is called synchronously for every budget.warning/budget.exceeded the
// tracker raises; pass nil to discard events (tests).
func NewTracker(maxDollars float64, maxTokens int, emit func(string, any)) *Tracker {
	if emit == nil {
		emit = func(string, any) {}
	}
	return &Tracker{
		state: State{MaxDollars: maxDollars, MaxTokens: maxTokens},
		emit:  emit,
	}
}

// RecordResponse increments run/total counters by usage (called on every
// llm.response) and emits budget.warning/budget.exceeded as thresholds are
// crossed. totalDollars and totalTokens are monotonically non-decreasing
// for the lifetime of the process (invariant I4) — RecordResponse never
// decrements them, even across ResetRun.
func (t *Tracker) RecordResponse(usage Usage) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.RunDollars += usage.Dollars
	t.state.RunTokens += usage.Tokens
	t.state.TotalDollars += usage.Dollars
	t.state.TotalTokens += usage.Tokens

	snap := t.state
	t.checkThresholdsLocked(snap)
	return snap
}

func (t *Tracker) checkThresholdsLocked(s State) {
	dollarFrac := fraction(s.TotalDollars, s.MaxDollars)
	tokenFrac := fraction(float64(s.TotalTokens), float64(s.MaxTokens))
	frac := dollarFrac
	if tokenFrac > frac {
		frac = tokenFrac
	}

	switch {
	case frac >= exceededFraction:
		t.emit("budget.exceeded", map[string]any{
			"total_dollars": s.TotalDollars, "max_dollars": s.MaxDollars,
			"total_tokens": s.TotalTokens, "max_tokens": s.MaxTokens,
		})
	case frac >= warningThreshold:
		t.emit("budget.warning", map[string]any{
			"total_dollars": s.TotalDollars, "max_dollars": s.MaxDollars,
			"total_tokens": s.TotalTokens, "max_tokens": s.MaxTokens,
		})
	}
}

// fraction returns usage/max, or 0 if max is 0 (unlimited — never
// triggers a threshold).
func fraction(usage, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return usage / max
}

// ResetRun zeroes RunDollars/RunTokens on board.started; total counters are
// never reset (invariant I4).
func (t *Tracker) ResetRun() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.RunDollars = 0
	t.state.RunTokens = 0
}

// Snapshot returns the tracker's current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Exceeded reports whether the tracker is currently at or above 100% of
// either configured maximum.
func (t *Tracker) Exceeded() bool {
	s := t.Snapshot()
	return fraction(s.TotalDollars, s.MaxDollars) >= exceededFraction ||
		fraction(float64(s.TotalTokens), float64(s.MaxTokens)) >= exceededFraction
}
