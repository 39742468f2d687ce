// Package tasklist implements the built-in tasklist ToolPlugin and the
// task store it owns (spec §4.11): an ordered list of tasks agents claim,
// work, and complete, with priority ordering and release-on-cancel.
package tasklist

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/ainulindale/internal/plugin"
)

// Priority is one of the four task priorities; higher values claim first.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 3,
	PriorityHigh:     2,
	PriorityNormal:   1,
	PriorityLow:      0,
}

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// Task is a tasklist-owned unit of work (spec §3.3).
type Task struct {
	ID          string
	Title       string
	Description string
	Priority    Priority
	Status      Status
	ClaimedBy   string
	ClaimedAt   *time.Time
	Result      any
	Err         string
	insertOrder int
}

// Error is a structured tasklist error.
type Error struct {
	Op      string
	TaskID  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("tasklist: %s %s: %s", e.Op, e.TaskID, e.Message)
}

// Store holds a single board hex's tasklist state. It is the state a
// ToolActor owns per spec §4.8.
type Store struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	counter int
	emit    func(eventType string, data any)
}

// NewStore creates an empty Store. emit, if non-nil, is called for every
// lifecycle event this store produces (tasks.available, task.claimed,
// task.released, task.completed).
func NewStore(emit func(string, any)) *Store {
	if emit == nil {
		emit = func(string, any) {}
	}
	return &Store{tasks: make(map[string]*Task), emit: emit}
}

// Add creates a new pending task and emits "tasks.available".
func (s *Store) Add(title, description string, priority Priority) *Task {
	if priority == "" {
		priority = PriorityNormal
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	t := &Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      StatusPending,
		insertOrder: s.counter,
	}
	s.tasks[t.ID] = t
	s.emit("tasks.available", map[string]any{"task_id": t.ID})
	return t
}

// Claim selects the highest-priority pending task (ties broken by
// insertion order), marks it Processing, and emits "task.claimed". Returns
// nil if no pending task exists — the caller must treat that as "another
// agent already claimed it" or "nothing to do", not an error.
func (s *Store) Claim(agentID string) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Task
	for _, t := range s.tasks {
		if t.Status != StatusPending {
			continue
		}
		if best == nil || betterClaim(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil
	}
	now := time.Now()
	best.Status = StatusProcessing
	best.ClaimedBy = agentID
	best.ClaimedAt = &now
	s.emit("task.claimed", map[string]any{"task_id": best.ID, "agent_id": agentID})
	return best
}

func betterClaim(a, b *Task) bool {
	ra, rb := priorityRank[a.Priority], priorityRank[b.Priority]
	if ra != rb {
		return ra > rb
	}
	return a.insertOrder < b.insertOrder
}

// Complete transitions a processing task to Completed and emits
// "task.completed".
func (s *Store) Complete(taskID string, result any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return &Error{Op: "complete", TaskID: taskID, Message: "not found"}
	}
	if t.Status != StatusProcessing {
		return &Error{Op: "complete", TaskID: taskID, Message: fmt.Sprintf("status is %s, want processing", t.Status)}
	}
	t.Status = StatusCompleted
	t.Result = result
	s.emit("task.completed", map[string]any{"task_id": taskID})
	return nil
}

// Fail transitions a processing task to Completed with an error recorded
// (the spec's task state machine has no distinct "failed" state, unlike
// WorkItem — a failed task is terminal-completed with Err set).
func (s *Store) Fail(taskID string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return &Error{Op: "fail", TaskID: taskID, Message: "not found"}
	}
	if t.Status != StatusProcessing {
		return &Error{Op: "fail", TaskID: taskID, Message: fmt.Sprintf("status is %s, want processing", t.Status)}
	}
	t.Status = StatusCompleted
	t.Err = errMsg
	s.emit("task.completed", map[string]any{"task_id": taskID, "error": errMsg})
	return nil
}

// Release returns a processing task to pending, used on agent cancellation
// (spec §4.9 "Cancellation"). Emits "task.released".
func (s *Store) Release(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return &Error{Op: "release", TaskID: taskID, Message: "not found"}
	}
	if t.Status != StatusProcessing {
		return &Error{Op: "release", TaskID: taskID, Message: fmt.Sprintf("status is %s, want processing", t.Status)}
	}
	t.Status = StatusPending
	t.ClaimedBy = ""
	t.ClaimedAt = nil
	s.emit("task.released", map[string]any{"task_id": taskID})
	return nil
}

// Get returns a task by ID.
func (s *Store) Get(taskID string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	return t, ok
}

// Filter optionally narrows List by status; a zero value matches everything.
type Filter struct {
	Status Status
}

// List returns every task matching filter, sorted by priority then
// insertion order, highest priority first.
func (s *Store) List(filter Filter) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Task
	for _, t := range s.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return betterClaim(out[i], out[j]) })
	return out
}

// Plugin exposes the LLM-facing subset of tasklist operations: add_task,
// list_tasks, get_task. Claim/Complete/Fail/Release are not LLM tool calls
// per spec §4.9 — the Agent Actor invokes them directly on the Store.
type Plugin struct {
	store *Store
	ready bool
}

// New wraps store as a ToolPlugin.
func New(store *Store) *Plugin {
	return &Plugin{store: store, ready: true}
}

func (p *Plugin) ID() string          { return "tasklist" }
func (p *Plugin) Name() string        { return "Tasklist" }
func (p *Plugin) Description() string { return "Add, list, and inspect tasks in the board's shared tasklist." }
func (p *Plugin) Category() string    { return "tasklist" }
func (p *Plugin) Icon() string        { return "check-square" }

func (p *Plugin) ConfigSchema() map[string]any  { return nil }
func (p *Plugin) DefaultConfig() map[string]any { return nil }
func (p *Plugin) ValidateConfig(map[string]any) error { return nil }

func (p *Plugin) IsAvailable() bool { return p.ready }

// Store returns the underlying task store, used by the tasklist ToolActor
// and by agent actors to claim/complete/release directly.
func (p *Plugin) Store() *Store { return p.store }

// AddTaskArgs parameterizes the add_task operation.
type AddTaskArgs struct {
	Title       string `json:"title" jsonschema:"required,description=Short task title"`
	Description string `json:"description,omitempty" jsonschema:"description=Longer task description"`
	Priority    string `json:"priority,omitempty" jsonschema:"description=One of low|normal|high|critical,default=normal"`
}

// ListTasksArgs parameterizes the list_tasks operation.
type ListTasksArgs struct {
	Status string `json:"status,omitempty" jsonschema:"description=Filter by status: pending|processing|completed"`
}

// GetTaskArgs parameterizes the get_task operation.
type GetTaskArgs struct {
	TaskID string `json:"task_id" mapstructure:"task_id" jsonschema:"required,description=Task ID to fetch"`
}

func (p *Plugin) Tools() []plugin.ToolDef {
	addSchema, _ := plugin.GenerateSchema[AddTaskArgs]()
	listSchema, _ := plugin.GenerateSchema[ListTasksArgs]()
	getSchema, _ := plugin.GenerateSchema[GetTaskArgs]()
	return []plugin.ToolDef{
		{Name: "tasklist_add_task", Operation: "add_task", Description: "Add a new task to the tasklist.", Schema: addSchema, Permission: "write"},
		{Name: "tasklist_list_tasks", Operation: "list_tasks", Description: "List tasks, optionally filtered by status.", Schema: listSchema, Permission: "read"},
		{Name: "tasklist_get_task", Operation: "get_task", Description: "Fetch a single task by ID.", Schema: getSchema, Permission: "read"},
	}
}

func (p *Plugin) Execute(ctx context.Context, ec plugin.ExecutionContext, operation string, params map[string]any) plugin.Result {
	switch operation {
	case "add_task":
		var args AddTaskArgs
		if err := mapstructure.Decode(params, &args); err != nil {
			return plugin.Result{Err: &plugin.ExecError{Code: "invalid_params", Message: err.Error()}}
		}
		t := p.store.Add(args.Title, args.Description, Priority(args.Priority))
		return plugin.Result{Value: map[string]any{"task_id": t.ID}}

	case "list_tasks":
		var args ListTasksArgs
		_ = mapstructure.Decode(params, &args)
		tasks := p.store.List(Filter{Status: Status(args.Status)})
		out := make([]map[string]any, 0, len(tasks))
		for _, t := range tasks {
			out = append(out, taskToMap(t))
		}
		return plugin.Result{Value: map[string]any{"tasks": out}}

	case "get_task":
		var args GetTaskArgs
		if err := mapstructure.Decode(params, &args); err != nil {
			return plugin.Result{Err: &plugin.ExecError{Code: "invalid_params", Message: err.Error()}}
		}
		t, ok := p.store.Get(args.TaskID)
		if !ok {
			return plugin.Result{Err: &plugin.ExecError{Code: "not_found", Message: "task not found"}}
		}
		return plugin.Result{Value: taskToMap(t)}

	default:
		return plugin.Result{Err: &plugin.ExecError{Code: "not_found", Message: fmt.Sprintf("unknown operation %q", operation)}}
	}
}

func taskToMap(t *Task) map[string]any {
	return map[string]any{
		"id":          t.ID,
		"title":       t.Title,
		"description": t.Description,
		"priority":    string(t.Priority),
		"status":      string(t.Status),
		"claimed_by":  t.ClaimedBy,
	}
}
