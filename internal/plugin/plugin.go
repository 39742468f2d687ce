// Package plugin defines the self-describing ToolPlugin capability (spec
// §4.7/§6.2) and the registry that holds, filters, and dispatches to them.
package plugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/ainulindale/internal/board"
)

// ExecutionContext is handed to a plugin's Execute call (spec §6.2):
// identifying information plus an emit helper so the plugin can publish
// engine events without importing the event bus directly. Config is the
// invoking ToolEntity's own config map — two entities of the same tool
// type can be configured differently (e.g. two filesystem tools with
// different workspace roots), so the plugin must decode it over its
// Initialize-time base before acting on this call.
type ExecutionContext struct {
	EntityID string
	HexKey   string
	BoardID  string
	AgentID  string         // empty if invoked outside an agent's tool loop
	Config   map[string]any // the invoking tool entity's config, nil if unconfigured
	Emit     func(eventType string, data any)
}

// ToolDef describes one operation a plugin exposes to the prompt composer
// and the LLM tool-call API.
type ToolDef struct {
	Name        string // "{toolType}_{operation}", e.g. "filesystem_read_file"
	Operation   string
	Description string
	Schema      map[string]any   // derived once at registration time, not per call
	Permission  board.Permission // the RBAC layer must authorize
}

// Result is a plugin execution result. Exactly one of Value/Err is set.
type Result struct {
	Value map[string]any
	Err   *ExecError
}

// ExecError is a structured execution error (spec §4.7 "structured error,
// not an exception").
type ExecError struct {
	Code    string // "not_found" | "permission_denied" | "invalid_params" | "timeout" | "execution_failed"
	Message string
}

func (e *ExecError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Plugin is the self-describing tool plugin interface (spec §4.7).
type Plugin interface {
	ID() string
	Name() string
	Description() string
	Category() string
	Icon() string

	ConfigSchema() map[string]any
	DefaultConfig() map[string]any
	ValidateConfig(cfg map[string]any) error

	Tools() []ToolDef
	Execute(ctx context.Context, ec ExecutionContext, operation string, params map[string]any) Result

	IsAvailable() bool
}

// Initializer is implemented by plugins needing setup before first use.
type Initializer interface {
	Initialize(cfg map[string]any) error
}

// Disposer is implemented by plugins holding resources to release on stop.
type Disposer interface {
	Dispose() error
}

// HealthChecker is implemented by plugins that can report degraded health
// without failing IsAvailable outright (SPEC_FULL.md supplemented feature).
type HealthChecker interface {
	HealthCheck() error
}

// GenerateSchema derives a JSON Schema map from a Go struct type's
// `json`/`jsonschema` tags by reflection. The built-in plugins call it from
// ConfigSchema and Tools, so the schema is rebuilt on each of those calls.
func GenerateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("plugin: marshal schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("plugin: unmarshal schema: %w", err)
	}

	if out["type"] == "object" {
		result := map[string]any{
			"type":       "object",
			"properties": out["properties"],
		}
		if req, ok := out["required"]; ok {
			result["required"] = req
		}
		if ap, ok := out["additionalProperties"]; ok {
			result["additionalProperties"] = ap
		}
		return result, nil
	}
	return out, nil
}
