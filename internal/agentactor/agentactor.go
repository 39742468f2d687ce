// Package agentactor implements the Agent Actor's claim-to-complete loop
// (spec §4.9): claiming a task, building a context bundle through the
// Prompt Composer, and running a bounded tool-call loop against the
// agent's LLM with RBAC-mediated tool dispatch and output truncation.
package agentactor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/ainulindale/internal/actor"
	"github.com/kadirpekel/ainulindale/internal/board"
	"github.com/kadirpekel/ainulindale/internal/budget"
	"github.com/kadirpekel/ainulindale/internal/eventbus"
	"github.com/kadirpekel/ainulindale/internal/hexmath"
	"github.com/kadirpekel/ainulindale/internal/llm"
	"github.com/kadirpekel/ainulindale/internal/plugin"
	"github.com/kadirpekel/ainulindale/internal/plugin/tasklist"
	"github.com/kadirpekel/ainulindale/internal/prompt"
	"github.com/kadirpekel/ainulindale/internal/rbac"
	"github.com/kadirpekel/ainulindale/internal/truncate"
	"github.com/kadirpekel/ainulindale/internal/workqueue"
)

// DefaultStepCap bounds the tool-call loop (spec §4.9 step 3.c "the hard
// step cap is reached").
const DefaultStepCap = 25

// TerminalMarker is the line prefix the Task Completion Protocol section of
// the system prompt instructs the model to emit when a task is fully done
// (spec §4.10 section 5, §4.9 step 3.c).
const TerminalMarker = "TASK_COMPLETE:"

// ErrCancelled is returned when the loop exits because ctx was cancelled;
// the caller must not call complete/fail in this case (spec §4.9
// "Cancellation").
var ErrCancelled = fmt.Errorf("agentactor: cancelled")

// Agent is everything the claim-to-complete loop needs about the agent
// entity it runs for.
type Agent struct {
	*actor.Actor
	ID           string
	Name         string
	Hex          hexmath.HexKey
	Template     string
	Model        string
	Temperature  float64
	SystemPrompt string
	Rulefiles    []prompt.EquippedRulefile
	StepCap      int
}

// Runner drives one agent's claim-to-complete loop against shared board,
// registry, bus, and LLM resources.
type Runner struct {
	Agent    *Agent
	Board    *board.Board
	Registry *plugin.Registry
	Bus      *eventbus.Bus
	Tasklist *tasklist.Store
	Provider  llm.Provider
	Handles   *truncate.HandleStore
	Budget    *budget.Tracker
	Tokens    *budget.TokenCounter
	WorkQueue *workqueue.Queue
}

// toolResolution is what TryClaim resolves a "{toolType}_{operation}" tool
// name to (spec §4.9 step 3.b).
type toolResolution struct {
	toolType     string
	operation    string
	sourceHexKey hexmath.HexKey
	toolEntityID string
	def          plugin.ToolDef
}

// TryClaim attempts to claim one task and, if successful, runs it to
// completion. Returns (false, nil) if there was nothing to claim (another
// agent beat it, per spec §4.9 step 1), and ErrCancelled if ctx was
// cancelled mid-loop.
func (r *Runner) TryClaim(ctx context.Context) (bool, error) {
	if r.Agent.Status() != actor.StatusActive {
		return false, nil
	}

	task := r.Tasklist.Claim(r.Agent.ID)
	if task == nil {
		return false, nil
	}

	if err := r.Agent.Enter("claimed task " + task.ID); err != nil {
		// Another invocation is already busy; put the task back.
		_ = r.Tasklist.Release(task.ID)
		return false, nil
	}

	err := r.run(ctx, task)

	if err == ErrCancelled {
		_ = r.Tasklist.Release(task.ID)
		_ = r.Agent.Transition(actor.StatusActive, "cancelled")
		return true, ErrCancelled
	}
	if err != nil {
		_ = r.Tasklist.Fail(task.ID, err.Error())
	}
	_ = r.Agent.Transition(actor.StatusActive, "task loop finished")
	return true, nil
}

func (r *Runner) run(ctx context.Context, task *tasklist.Task) error {
	bindings := prompt.ReachableTools(r.Board, r.Registry, r.Agent.Hex)
	resolutions := make(map[string]toolResolution, len(bindings))
	for _, b := range bindings {
		resolutions[b.Def.Name] = toolResolution{
			toolType:     b.ToolType,
			operation:    b.Def.Operation,
			sourceHexKey: b.SourceHexKey,
			toolEntityID: b.ToolEntityID,
			def:          b.Def,
		}
	}

	systemPrompt := prompt.Compose(prompt.Request{
		AgentID:      r.Agent.ID,
		AgentName:    r.Agent.Name,
		Template:     r.Agent.Template,
		Board:        r.Board,
		Registry:     r.Registry,
		RequesterHex: r.Agent.Hex,
		Rulefiles:    r.Agent.Rulefiles,
		CustomPrompt: r.Agent.SystemPrompt,
	})

	toolDefs := make([]llm.ToolDefinition, 0, len(bindings))
	for _, b := range bindings {
		toolDefs = append(toolDefs, llm.ToolDefinition{
			Name:        b.Def.Name,
			Description: b.Def.Description,
			Parameters:  b.Def.Schema,
		})
	}

	messages := []llm.Message{
		{Role: llm.RoleUser, Content: prompt.UserMessage(task.Title, task.Description)},
	}

	stepCap := r.Agent.StepCap
	if stepCap <= 0 {
		stepCap = DefaultStepCap
	}

	var lastText string
	for step := 0; step < stepCap; step++ {
		if ctx.Err() != nil {
			return ErrCancelled
		}

		// Pre-flight estimate: the provider only reports usage after the
		// call returns, so a prompt that cannot fit the remaining token
		// budget fails the task here instead of overspending first.
		estimate := r.Tokens.Count(systemPrompt)
		for _, m := range messages {
			estimate += r.Tokens.Count(m.Content)
		}
		if r.Budget != nil {
			snap := r.Budget.Snapshot()
			if snap.MaxTokens > 0 && snap.TotalTokens+estimate > snap.MaxTokens {
				return fmt.Errorf("agentactor: estimated prompt of %d tokens exceeds remaining token budget (%d of %d spent)", estimate, snap.TotalTokens, snap.MaxTokens)
			}
		}

		if r.Bus != nil {
			r.Bus.Publish(eventbus.Event{Type: "llm.request", BoardID: r.Board.ID(), HexID: string(r.Agent.Hex), Data: map[string]any{"agent_id": r.Agent.ID, "model": r.Agent.Model, "estimated_tokens": estimate}})
		}

		resp, err := llm.ChatWithRetry(ctx, r.Provider, llm.Request{
			Model:       r.Agent.Model,
			System:      systemPrompt,
			Messages:    messages,
			Tools:       toolDefs,
			Temperature: r.Agent.Temperature,
		}, llm.DefaultRetryPolicy)
		if err != nil {
			if ctx.Err() != nil {
				return ErrCancelled
			}
			return fmt.Errorf("agentactor: llm call failed: %w", err)
		}

		if r.Bus != nil {
			r.Bus.Publish(eventbus.Event{Type: "llm.response", BoardID: r.Board.ID(), HexID: string(r.Agent.Hex), Data: map[string]any{
				"agent_id": r.Agent.ID, "usage": resp.Usage, "cost": resp.Cost,
			}})
		}
		if r.Budget != nil {
			r.Budget.RecordResponse(budget.Usage{Dollars: resp.Cost.Total, Tokens: resp.Usage.TotalTokens})
		}

		lastText = resp.Text
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})

		if r.Bus != nil {
			r.Bus.Publish(eventbus.Event{Type: "hex.progress", BoardID: r.Board.ID(), HexID: string(r.Agent.Hex), Data: map[string]any{
				"task_id": task.ID, "step": step + 1, "step_cap": stepCap, "tool_calls": len(resp.ToolCalls),
			}})
		}

		if len(resp.ToolCalls) == 0 {
			break
		}
		if strings.Contains(resp.Text, TerminalMarker) {
			break
		}

		for _, call := range resp.ToolCalls {
			if ctx.Err() != nil {
				return ErrCancelled
			}
			result := r.dispatch(ctx, resolutions, call)
			messages = append(messages, toolResultMessage(call, result))
		}
	}

	return r.Tasklist.Complete(task.ID, lastText)
}

// dispatch resolves one tool call to a plugin operation, runs the RBAC
// check, executes it, and applies output truncation (spec §4.9 step 3.b).
func (r *Runner) dispatch(ctx context.Context, resolutions map[string]toolResolution, call llm.ToolCall) plugin.Result {
	res, ok := resolutions[call.Name]
	if !ok {
		return plugin.Result{Err: &plugin.ExecError{Code: "not_found", Message: fmt.Sprintf("unknown tool %q", call.Name)}}
	}

	occ, ok := r.Board.EntityByHex(res.sourceHexKey)
	if !ok {
		return plugin.Result{Err: &plugin.ExecError{Code: "not_found", Message: "tool entity is no longer on the board"}}
	}
	toolEntity, ok := occ.(*board.ToolEntity)
	if !ok {
		return plugin.Result{Err: &plugin.ExecError{Code: "not_found", Message: "resolved entity is not a tool"}}
	}

	decision := rbac.CheckPermission(toolEntity, res.sourceHexKey, r.Agent.Hex, res.def.Permission)
	if !decision.Allowed {
		return plugin.Result{Err: &plugin.ExecError{Code: "permission_denied", Message: decision.Reason}}
	}

	var item *workqueue.WorkItem
	if r.WorkQueue != nil {
		item = r.WorkQueue.Create(workqueue.Partial{
			BoardID:      r.Board.ID(),
			SourceHexID:  string(r.Agent.Hex),
			CurrentHexID: string(res.sourceHexKey),
			Payload:      call.Name,
		})
		r.WorkQueue.Enqueue(string(res.sourceHexKey), item)
		r.Bus.Publish(eventbus.Event{Type: "work.received", BoardID: r.Board.ID(), HexID: string(res.sourceHexKey), Data: item})
		if _, err := r.WorkQueue.Claim(item.ID, r.Agent.ID); err == nil {
			_, _ = r.WorkQueue.StartProcessing(item.ID)
		}
	}

	ec := plugin.ExecutionContext{
		EntityID: res.toolEntityID,
		HexKey:   string(res.sourceHexKey),
		BoardID:  r.Board.ID(),
		AgentID:  r.Agent.ID,
		Emit: func(eventType string, data any) {
			r.Bus.Publish(eventbus.Event{Type: eventType, BoardID: r.Board.ID(), HexID: string(res.sourceHexKey), Data: data})
		},
	}

	result := r.Registry.ExecuteTool(ctx, res.toolType, ec, res.operation, toolEntity.Config, call.Arguments)
	if result.Value != nil && r.Handles != nil {
		result.Value = r.Handles.ApplyResultToFields(res.toolType, result.Value)
	}

	if item != nil {
		errCode := ""
		if result.Err != nil {
			errCode = result.Err.Code
			_, _ = r.WorkQueue.Fail(item.ID, result.Err.Message)
		} else {
			_, _ = r.WorkQueue.Complete(item.ID, result.Value)
		}
		r.Bus.Publish(eventbus.Event{Type: "work.completed", BoardID: r.Board.ID(), HexID: string(res.sourceHexKey), Data: map[string]any{
			"item": item, "plugin_id": res.toolType, "operation": res.operation, "error_code": errCode,
		}})
	}

	r.Bus.Publish(eventbus.Event{
		Type:    "work.flowing",
		BoardID: r.Board.ID(),
		HexID:   string(r.Agent.Hex),
		Data: map[string]any{
			"from_hex": string(r.Agent.Hex),
			"to_hex":   string(res.sourceHexKey),
			"tool":     call.Name,
		},
	})

	return result
}

func toolResultMessage(call llm.ToolCall, result plugin.Result) llm.Message {
	var content string
	if result.Err != nil {
		content = fmt.Sprintf(`{"error":{"code":%q,"message":%q}}`, result.Err.Code, result.Err.Message)
	} else {
		data, err := json.Marshal(result.Value)
		if err != nil {
			content = fmt.Sprintf(`{"error":{"code":"execution_failed","message":%q}}`, err.Error())
		} else {
			content = string(data)
		}
	}
	return llm.Message{Role: llm.RoleTool, Content: content, ToolCallID: call.ID}
}
