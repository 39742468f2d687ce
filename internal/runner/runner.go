// Package runner implements the Board Runner (spec §4.14): board
// validation, actor construction with rollback on partial failure, the
// event-driven run phase, and an orderly stop sequence that releases
// in-progress tasks, disposes plugins, and flushes persistence.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/ainulindale/internal/actor"
	"github.com/kadirpekel/ainulindale/internal/agentactor"
	"github.com/kadirpekel/ainulindale/internal/board"
	"github.com/kadirpekel/ainulindale/internal/budget"
	"github.com/kadirpekel/ainulindale/internal/eventbus"
	"github.com/kadirpekel/ainulindale/internal/hexmath"
	"github.com/kadirpekel/ainulindale/internal/llm"
	"github.com/kadirpekel/ainulindale/internal/obslog"
	"github.com/kadirpekel/ainulindale/internal/plugin"
	"github.com/kadirpekel/ainulindale/internal/plugin/tasklist"
	"github.com/kadirpekel/ainulindale/internal/prompt"
	"github.com/kadirpekel/ainulindale/internal/rbac"
	"github.com/kadirpekel/ainulindale/internal/rulefile"
	"github.com/kadirpekel/ainulindale/internal/store"
	"github.com/kadirpekel/ainulindale/internal/truncate"
	"github.com/kadirpekel/ainulindale/internal/workqueue"
)

// ProviderFactory resolves an agent entity's configured provider/model
// into a usable llm.Provider. A non-nil error here is treated as an actor
// construction failure (spec §4.14 "Actor construction failure is fatal to
// start").
type ProviderFactory func(agent *board.AgentEntity) (llm.Provider, error)

// RulefileLookup resolves a rulefile id to its content, used to build the
// Prompt Composer's Equipped Rulefiles section for each agent.
type RulefileLookup func(id string) (rulefile.Rulefile, bool)

// Error reports a Board Runner lifecycle failure.
type Error struct {
	Op      string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("runner: %s: %s", e.Op, e.Message) }

// Runner owns one board's lifecycle: constructing actors, dispatching
// events to them, and tearing them down in order on stop.
type Runner struct {
	Board           *board.Board
	Registry        *plugin.Registry
	Bus             *eventbus.Bus
	Tasklist        *tasklist.Store
	Budget          *budget.Tracker
	Saver           *store.DebouncedSaver
	Handles         *truncate.HandleStore
	WorkQueue       *workqueue.Queue
	ProviderFactory ProviderFactory
	Rulefiles       RulefileLookup
	PluginConfigs   map[string]map[string]any

	mu          sync.Mutex
	started     bool
	boardHooked bool
	cancel      context.CancelFunc
	runCtx      context.Context
	actors      map[string]*actor.Actor
	agents      map[string]*agentactor.Runner
	subs        []eventbus.Subscription
}

type builtActor struct {
	entityID string
	actor    *actor.Actor
	agent    *agentactor.Runner
}

// Start validates the board, constructs one actor per occupied hex,
// initializes tool plugins, subscribes actors to the bus, emits
// "board.started", and resets the Budget Tracker's run metrics (spec
// §4.14 step 1).
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return &Error{Op: "Start", Message: "already started"}
	}
	if r.Board == nil {
		return &Error{Op: "Start", Message: "board is required"}
	}
	if r.WorkQueue == nil {
		r.WorkQueue = workqueue.New()
	}

	built, err := r.constructActors(ctx)
	if err != nil {
		// Nothing was committed to r.actors/r.agents yet: rollback is
		// simply declining to commit (spec §4.14 "the runner rolls back
		// any partial initialization").
		return &Error{Op: "Start", Message: err.Error()}
	}

	if r.Registry != nil {
		if err := r.Registry.InitializeAll(r.PluginConfigs); err != nil {
			return &Error{Op: "Start", Message: fmt.Sprintf("initialize plugins: %v", err)}
		}
		for pluginID, err := range r.Registry.HealthCheckAll() {
			obslog.GetLogger().Warn("plugin health check failed", "plugin_id", pluginID, "error", err)
		}
	}

	r.actors = make(map[string]*actor.Actor, len(built))
	r.agents = make(map[string]*agentactor.Runner)
	for _, b := range built {
		r.actors[b.entityID] = b.actor
		if b.agent != nil {
			r.agents[b.entityID] = b.agent
		}
	}

	for _, a := range r.actors {
		if err := a.Transition(actor.StatusActive, "board started"); err != nil {
			return &Error{Op: "Start", Message: fmt.Sprintf("activate actor %s: %v", a.EntityID(), err)}
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.runCtx = runCtx
	r.cancel = cancel
	r.subscribeLocked()
	r.hookBoardLocked()

	r.started = true
	if r.Bus != nil {
		r.Bus.Publish(eventbus.Event{Type: "board.started", BoardID: r.Board.ID()})
	}
	if r.Budget != nil {
		r.Budget.ResetRun()
	}
	return nil
}

func (r *Runner) constructActors(ctx context.Context) ([]builtActor, error) {
	g, _ := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var built []builtActor

	for entityID, occ := range r.Board.Entities() {
		entityID, occ := entityID, occ
		g.Go(func() error {
			hexKey, ok := r.Board.HexByEntity(entityID)
			if !ok {
				return &Error{Op: "constructActors", Message: fmt.Sprintf("entity %s has no hex", entityID)}
			}

			switch v := occ.(type) {
			case *board.AgentEntity:
				var provider llm.Provider
				if r.ProviderFactory != nil {
					p, err := r.ProviderFactory(v)
					if err != nil {
						return &Error{Op: "constructActors", Message: fmt.Sprintf("agent %s: %v", entityID, err)}
					}
					provider = p
				}
				// Token counters back the agent loop's pre-flight budget
				// check; built only when a token ceiling is configured.
				// A failed encoding lookup leaves the counter nil, which
				// Count treats as a byte-length heuristic.
				var tokens *budget.TokenCounter
				if r.Budget != nil && r.Budget.Snapshot().MaxTokens > 0 {
					if tc, err := budget.NewTokenCounter(v.Model); err == nil {
						tokens = tc
					}
				}
				a := actor.New(entityID, string(hexKey), r.emitStatus)
				ar := &agentactor.Runner{
					Agent: &agentactor.Agent{
						Actor:        a,
						ID:           entityID,
						Name:         v.Name,
						Hex:          hexKey,
						Template:     v.Template,
						Model:        v.Model,
						Temperature:  v.Temperature,
						SystemPrompt: v.SystemPrompt,
						Rulefiles:    r.resolveRulefiles(v),
					},
					Board:     r.Board,
					Registry:  r.Registry,
					Bus:       r.Bus,
					Tasklist:  r.Tasklist,
					Provider:  provider,
					Handles:   r.Handles,
					Budget:    r.Budget,
					Tokens:    tokens,
					WorkQueue: r.WorkQueue,
				}
				mu.Lock()
				built = append(built, builtActor{entityID: entityID, actor: a, agent: ar})
				mu.Unlock()
			case *board.ToolEntity:
				a := actor.New(entityID, string(hexKey), r.emitStatus)
				mu.Lock()
				built = append(built, builtActor{entityID: entityID, actor: a})
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return built, nil
}

func (r *Runner) resolveRulefiles(agent *board.AgentEntity) []prompt.EquippedRulefile {
	if r.Rulefiles == nil {
		return nil
	}
	var out []prompt.EquippedRulefile
	for _, eq := range agent.EquippedRulefiles {
		if !eq.Enabled {
			continue
		}
		rf, ok := r.Rulefiles(eq.RulefileID)
		if !ok {
			continue
		}
		overrides := make([]rulefile.Override, 0, len(eq.Overrides))
		for _, o := range eq.Overrides {
			overrides = append(overrides, rulefile.Override{RuleID: o.RuleID, Content: o.Content, Enabled: o.Enabled})
		}
		out = append(out, prompt.EquippedRulefile{Rulefile: rf, Overrides: overrides})
	}
	return out
}

// emitStatus publishes an actor StatusEvent as a "hex.status" bus event
// (spec §4.8 "Transitions emit hex.status").
func (r *Runner) emitStatus(evt actor.StatusEvent) {
	if r.Bus == nil {
		return
	}
	boardID := ""
	if r.Board != nil {
		boardID = r.Board.ID()
	}
	r.Bus.Publish(eventbus.Event{
		Type:    "hex.status",
		BoardID: boardID,
		HexID:   evt.HexKey,
		Data:    evt,
	})
}

// subscribeLocked wires the bus so "tasks.available" events reach every
// agent actor that can reach the tasklist's hex (spec §4.8 "AgentActor:
// subscribes to tasks.available events whose source hex is reachable
// under RBAC"), plus "budget.exceeded" triggering a stop (spec §4.13
// "Board Runner listens for the latter and initiates a stop").
func (r *Runner) subscribeLocked() {
	r.subs = append(r.subs, r.Bus.Subscribe("tasks.available", func(evt eventbus.Event) {
		r.handleTasksAvailable(evt)
	}))
	r.subs = append(r.subs, r.Bus.Subscribe("budget.exceeded", func(eventbus.Event) {
		_ = r.Stop(context.Background())
	}))
}

// hookBoardLocked wires the Board Model's mutation notifications (spec
// §4.2 "notifies subscribers") to the bus and the debounced persistence
// saver (spec §5 "persistence is debounced (1s default) per entity"). It
// installs once per Runner, since board.Board.Subscribe has no
// unsubscribe and the same Board may outlive several Start/Stop cycles.
func (r *Runner) hookBoardLocked() {
	if r.boardHooked || r.Board == nil {
		return
	}
	r.boardHooked = true
	r.Board.Subscribe(func(evt board.Event) {
		if r.Bus != nil {
			r.Bus.Publish(eventbus.Event{Type: evt.Type, BoardID: r.Board.ID(), HexID: string(evt.HexKey), Data: evt})
		}
		if r.Saver == nil || evt.EntityID == "" {
			return
		}
		if evt.Type == "entity.removed" {
			_ = r.Saver.DeleteEntity(context.Background(), r.Board.ID(), evt.EntityID)
			return
		}
		occ, ok := r.Board.EntityByHex(evt.HexKey)
		if !ok {
			return
		}
		data, err := json.Marshal(occ)
		if err != nil {
			return
		}
		r.Saver.SaveEntity(r.Board.ID(), evt.EntityID, data)
	})
}

func (r *Runner) handleTasksAvailable(evt eventbus.Event) {
	hexKey := hexmath.HexKey(evt.HexID)
	occ, ok := r.Board.EntityByHex(hexKey)
	if !ok {
		return
	}
	tool, ok := occ.(*board.ToolEntity)
	if !ok {
		return
	}

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		ar := r.agents[id]
		if !rbac.CanReach(tool, hexKey, ar.Agent.Hex) {
			continue
		}
		claimed, err := ar.TryClaim(r.runCtx)
		if err != nil && err != agentactor.ErrCancelled {
			continue
		}
		if claimed {
			return
		}
	}
}

// Stop cancels in-flight agent loops, releases in-progress tasks, disposes
// plugins, flushes persistence, emits "board.stopped", and drops actors
// (spec §4.14 step 3).
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}

	if r.cancel != nil {
		r.cancel()
	}
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
	r.subs = nil

	if r.Tasklist != nil {
		for _, t := range r.Tasklist.List(tasklist.Filter{Status: tasklist.StatusProcessing}) {
			_ = r.Tasklist.Release(t.ID)
		}
	}

	var disposeErrs []error
	if r.Registry != nil {
		disposeErrs = r.Registry.DisposeAll()
	}

	var flushErr error
	if r.Saver != nil {
		flushErr = r.Saver.Flush(ctx)
	}

	r.actors = nil
	r.agents = nil
	r.started = false

	if r.Bus != nil {
		r.Bus.Publish(eventbus.Event{Type: "board.stopped", BoardID: r.boardID()})
	}

	if len(disposeErrs) > 0 {
		return &Error{Op: "Stop", Message: fmt.Sprintf("%d plugin(s) failed to dispose: %v", len(disposeErrs), disposeErrs[0])}
	}
	if flushErr != nil {
		return &Error{Op: "Stop", Message: fmt.Sprintf("flush persistence: %v", flushErr)}
	}
	return nil
}

func (r *Runner) boardID() string {
	if r.Board == nil {
		return ""
	}
	return r.Board.ID()
}

// Started reports whether the runner is currently between Start and Stop.
func (r *Runner) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}
