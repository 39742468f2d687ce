// Package mockllm is a scripted llm.Provider used for local dry-runs of
// the CLI ("ainulindale run --provider mock") and for tests elsewhere in
// this module. It is not a real provider — spec §1 explicitly excludes
// "built-in LLM provider adapters and their network transport" from the
// engine's scope; this package exists only to exercise the Board Runner
// and Agent Actor loop end-to-end without a network call.
package mockllm

import (
	"context"
	"fmt"
	"sync"

	"github.com/kadirpekel/ainulindale/internal/llm"
)

// Provider replies with a fixed sequence of responses, falling back to a
// terminal text response once the sequence is exhausted. Grounded on the
// scripted-response MockLLMService convention used throughout the
// teacher's own test suite (pkg/agent/agent_execution_test.go).
type Provider struct {
	mu        sync.Mutex
	Responses []llm.Response
	calls     int
}

// NewEcho returns a Provider whose single response immediately emits the
// Task Completion Protocol's terminal marker, a reasonable default for
// smoke-testing a board without scripting a tool-call sequence.
func NewEcho(terminalMarker string) *Provider {
	return &Provider{Responses: []llm.Response{
		{Text: fmt.Sprintf("%s no tool calls required", terminalMarker)},
	}}
}

func (p *Provider) Chat(ctx context.Context, req llm.Request) (llm.Response, error) {
	select {
	case <-ctx.Done():
		return llm.Response{}, &llm.Error{Code: llm.ErrNetwork, Message: "cancelled", Err: ctx.Err()}
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls >= len(p.Responses) {
		return llm.Response{Text: "TASK_COMPLETE: mock provider exhausted its scripted responses"}, nil
	}
	resp := p.Responses[p.calls]
	p.calls++
	return resp, nil
}
