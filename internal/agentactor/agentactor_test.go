package agentactor

import (
	"context"
	"strings"
	"testing"

	"github.com/kadirpekel/ainulindale/internal/actor"
	"github.com/kadirpekel/ainulindale/internal/board"
	"github.com/kadirpekel/ainulindale/internal/budget"
	"github.com/kadirpekel/ainulindale/internal/eventbus"
	"github.com/kadirpekel/ainulindale/internal/hexmath"
	"github.com/kadirpekel/ainulindale/internal/llm"
	"github.com/kadirpekel/ainulindale/internal/plugin"
	"github.com/kadirpekel/ainulindale/internal/plugin/filesystem"
	"github.com/kadirpekel/ainulindale/internal/plugin/tasklist"
	"github.com/kadirpekel/ainulindale/internal/truncate"
	"github.com/kadirpekel/ainulindale/internal/workqueue"
)

type scriptedProvider struct {
	responses []llm.Response
	errs      []error
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, req llm.Request) (llm.Response, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return llm.Response{}, p.errs[i]
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	return llm.Response{}, context.DeadlineExceeded
}

func newTestRunner(t *testing.T, provider llm.Provider, canWrite bool) (*Runner, *tasklist.Store) {
	t.Helper()
	b := board.New("b1", 2)
	registry := plugin.NewRegistry()
	bus := eventbus.New(nil)

	fsPlugin := filesystem.New()
	if err := fsPlugin.Initialize(map[string]any{
		"working_directory": t.TempDir(),
		"can_write":          canWrite,
	}); err != nil {
		t.Fatalf("Initialize filesystem: %v", err)
	}
	if err := registry.Register(fsPlugin); err != nil {
		t.Fatalf("Register filesystem: %v", err)
	}

	store := tasklist.NewStore(func(evt string, data any) {
		bus.Publish(eventbus.Event{Type: evt, BoardID: "b1", Data: data})
	})
	tlPlugin := tasklist.New(store)
	if err := registry.Register(tlPlugin); err != nil {
		t.Fatalf("Register tasklist: %v", err)
	}

	origin := hexmath.AxialCoord{Q: 0, R: 0}.Key()
	neighbor := hexmath.AxialCoord{Q: 1, R: 0}.Key()

	agentEntity := &board.AgentEntity{
		Entity:   board.Entity{ID: "agent-1", Name: "Agent One", Category: board.CategoryAgent},
		Template: "coder",
	}
	if err := b.PlaceEntity(origin, agentEntity); err != nil {
		t.Fatalf("PlaceEntity agent: %v", err)
	}

	tool := &board.ToolEntity{
		Entity:       board.Entity{ID: "tool-1", Name: "FS", Category: board.CategoryTool},
		ToolType:     "filesystem",
		IsConfigured: true,
		Range:        2,
		LinkingMode:  board.LinkingRange,
		RBACConfig: board.RBACConfig{
			Enabled:            true,
			DefaultPermissions: []board.Permission{board.PermRead, board.PermWrite},
		},
	}
	if err := b.PlaceEntity(neighbor, tool); err != nil {
		t.Fatalf("PlaceEntity tool: %v", err)
	}

	agent := &Agent{
		Actor:    actor.New("agent-1", string(origin), nil),
		ID:       "agent-1",
		Name:     "Agent One",
		Hex:      origin,
		Template: "coder",
		Model:    "test-model",
	}
	if err := agent.Transition(actor.StatusActive, "start"); err != nil {
		t.Fatalf("Transition active: %v", err)
	}

	runner := &Runner{
		Agent:    agent,
		Board:    b,
		Registry: registry,
		Bus:      bus,
		Tasklist: store,
		Provider: provider,
		Handles:  truncate.NewHandleStore(16),
	}
	return runner, store
}

func TestTryClaimReturnsFalseWhenNothingPending(t *testing.T) {
	runner, _ := newTestRunner(t, &scriptedProvider{}, true)
	claimed, err := runner.TryClaim(context.Background())
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if claimed {
		t.Fatal("expected nothing to claim")
	}
}

func TestClaimToCompleteHappyPath(t *testing.T) {
	provider := &scriptedProvider{
		responses: []llm.Response{
			{Text: "All done. " + TerminalMarker + " wrote the file"},
		},
	}
	runner, store := newTestRunner(t, provider, true)
	task := store.Add("Write a file", "put hello in out.txt", tasklist.PriorityNormal)

	claimed, err := runner.TryClaim(context.Background())
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if !claimed {
		t.Fatal("expected a task to be claimed")
	}

	got, ok := store.Get(task.ID)
	if !ok {
		t.Fatal("task missing after run")
	}
	if got.Status != tasklist.StatusCompleted {
		t.Errorf("task status = %s, want completed", got.Status)
	}
	if got.Err != "" {
		t.Errorf("unexpected task error: %s", got.Err)
	}
	if runner.Agent.Status() != actor.StatusActive {
		t.Errorf("agent status = %s, want active after completing its task", runner.Agent.Status())
	}
}

func TestClaimToCompleteRecordsUsageOnBudgetTracker(t *testing.T) {
	provider := &scriptedProvider{
		responses: []llm.Response{
			{
				Text:  "All done. " + TerminalMarker + " nothing to write",
				Usage: llm.Usage{TotalTokens: 42},
				Cost:  llm.Cost{Total: 0.05},
			},
		},
	}
	runner, store := newTestRunner(t, provider, true)
	tracker := budget.NewTracker(0, 0, nil)
	runner.Budget = tracker

	task := store.Add("Write a file", "", tasklist.PriorityNormal)
	if _, err := runner.TryClaim(context.Background()); err != nil {
		t.Fatalf("TryClaim: %v", err)
	}

	if got, ok := store.Get(task.ID); !ok || got.Status != tasklist.StatusCompleted {
		t.Fatalf("expected task completed, got %+v ok=%v", got, ok)
	}

	state := tracker.Snapshot()
	if state.TotalTokens != 42 {
		t.Errorf("TotalTokens = %d, want 42", state.TotalTokens)
	}
	if state.TotalDollars != 0.05 {
		t.Errorf("TotalDollars = %v, want 0.05", state.TotalDollars)
	}
}

func TestToolCallLoopDispatchesAndTerminatesOnMarker(t *testing.T) {
	provider := &scriptedProvider{
		responses: []llm.Response{
			{
				ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "filesystem_write_file", Arguments: map[string]any{
					"path": "out.txt", "content": "hello",
				}}},
			},
			{Text: TerminalMarker + " wrote out.txt"},
		},
	}
	runner, store := newTestRunner(t, provider, true)
	task := store.Add("Write a file", "", tasklist.PriorityNormal)

	claimed, err := runner.TryClaim(context.Background())
	if err != nil || !claimed {
		t.Fatalf("TryClaim: claimed=%v err=%v", claimed, err)
	}

	got, _ := store.Get(task.ID)
	if got.Status != tasklist.StatusCompleted {
		t.Fatalf("task status = %s, want completed", got.Status)
	}
	if provider.calls != 2 {
		t.Errorf("expected 2 LLM calls, got %d", provider.calls)
	}
}

func TestToolCallDispatchRoutesThroughWorkQueue(t *testing.T) {
	provider := &scriptedProvider{
		responses: []llm.Response{
			{
				ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "filesystem_write_file", Arguments: map[string]any{
					"path": "out.txt", "content": "hello",
				}}},
			},
			{Text: TerminalMarker + " wrote out.txt"},
		},
	}
	runner, store := newTestRunner(t, provider, true)
	wq := workqueue.New()
	runner.WorkQueue = wq

	task := store.Add("Write a file", "", tasklist.PriorityNormal)
	if _, err := runner.TryClaim(context.Background()); err != nil {
		t.Fatalf("TryClaim: %v", err)
	}

	toolHex := hexmath.AxialCoord{Q: 1, R: 0}.Key()
	processed := wq.ProcessingFor(string(toolHex))
	if len(processed) != 0 {
		t.Errorf("expected no items still processing, got %d", len(processed))
	}

	got, _ := store.Get(task.ID)
	if got.Status != tasklist.StatusCompleted {
		t.Fatalf("task status = %s, want completed", got.Status)
	}
}

func TestToolCallDeniedByPluginProducesErrorResultNotFatal(t *testing.T) {
	provider := &scriptedProvider{
		responses: []llm.Response{
			{
				ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "filesystem_write_file", Arguments: map[string]any{
					"path": "out.txt", "content": "hello",
				}}},
			},
			{Text: TerminalMarker + " gave up on writing"},
		},
	}
	// canWrite=false: the filesystem plugin itself rejects write_file with
	// a structured execution error, which must not be fatal to the loop.
	runner, store := newTestRunner(t, provider, false)
	task := store.Add("Write a file", "", tasklist.PriorityNormal)

	claimed, err := runner.TryClaim(context.Background())
	if err != nil || !claimed {
		t.Fatalf("TryClaim: claimed=%v err=%v", claimed, err)
	}
	got, _ := store.Get(task.ID)
	if got.Status != tasklist.StatusCompleted {
		t.Fatalf("task status = %s, want completed (denial is not fatal)", got.Status)
	}
}

func TestPreflightTokenEstimateFailsTaskBeforeCalling(t *testing.T) {
	provider := &scriptedProvider{}
	runner, store := newTestRunner(t, provider, true)
	// A ceiling far below what even the fallback bytes/4 estimate of the
	// seven-section system prompt alone comes to. Tokens stays nil: Count
	// on a nil counter uses the heuristic, no encoding download needed.
	runner.Budget = budget.NewTracker(0, 10, nil)

	task := store.Add("Do something", "", tasklist.PriorityNormal)
	claimed, err := runner.TryClaim(context.Background())
	if err != nil || !claimed {
		t.Fatalf("TryClaim: claimed=%v err=%v", claimed, err)
	}

	if provider.calls != 0 {
		t.Errorf("provider called %d times, want 0 (preflight must abort first)", provider.calls)
	}
	got, _ := store.Get(task.ID)
	if !strings.Contains(got.Err, "token budget") {
		t.Errorf("task error = %q, want a token-budget failure", got.Err)
	}
}

func TestDispatchAppliesToolEntityConfigPerCall(t *testing.T) {
	provider := &scriptedProvider{
		responses: []llm.Response{
			{
				ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "filesystem_write_file", Arguments: map[string]any{
					"path": "out.txt", "content": "hello",
				}}},
			},
			{Text: TerminalMarker + " done"},
		},
	}
	// Plugin base config allows writes; this one entity's own config turns
	// them off, and must win for calls routed through its hex.
	runner, store := newTestRunner(t, provider, true)
	toolHex := hexmath.AxialCoord{Q: 1, R: 0}.Key()
	occ, _ := runner.Board.EntityByHex(toolHex)
	occ.(*board.ToolEntity).Config = map[string]any{"can_write": false}

	runner.WorkQueue = workqueue.New()
	var errCode string
	runner.Bus.Subscribe("work.completed", func(evt eventbus.Event) {
		data, ok := evt.Data.(map[string]any)
		if !ok {
			return
		}
		errCode, _ = data["error_code"].(string)
	})

	task := store.Add("Write a file", "", tasklist.PriorityNormal)
	if _, err := runner.TryClaim(context.Background()); err != nil {
		t.Fatalf("TryClaim: %v", err)
	}

	if errCode != "permission_denied" {
		t.Errorf("tool error code = %q, want permission_denied from the entity's can_write=false", errCode)
	}
	got, _ := store.Get(task.ID)
	if got.Status != tasklist.StatusCompleted {
		t.Fatalf("task status = %s, want completed (denial is not fatal)", got.Status)
	}
}

func TestTryClaimBusyAgentDoesNotClaim(t *testing.T) {
	runner, store := newTestRunner(t, &scriptedProvider{}, true)
	store.Add("task", "", tasklist.PriorityNormal)
	if err := runner.Agent.Transition(actor.StatusBusy, "externally busy"); err != nil {
		t.Fatalf("Transition busy: %v", err)
	}
	claimed, err := runner.TryClaim(context.Background())
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if claimed {
		t.Fatal("expected a busy agent to refuse claiming")
	}
}

func TestCancellationReleasesClaimWithoutCompleting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := &scriptedProvider{}
	runner, store := newTestRunner(t, provider, true)
	task := store.Add("task", "", tasklist.PriorityNormal)

	claimed, err := runner.TryClaim(ctx)
	if !claimed {
		t.Fatal("expected the task to be claimed before cancellation is observed")
	}
	if err != ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	got, ok := store.Get(task.ID)
	if !ok {
		t.Fatal("task missing")
	}
	if got.Status != tasklist.StatusPending {
		t.Errorf("task status = %s, want pending (released)", got.Status)
	}
	if strings.Contains(got.Err, "complete") {
		t.Error("cancelled task must not be completed or failed")
	}
}
