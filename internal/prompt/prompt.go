// Package prompt implements the Prompt Composer (spec §4.10): assembling
// an agent's system prompt from board topology, role, equipped rulefiles,
// and the agent's own custom instructions, in a fixed seven-section order.
package prompt

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/kadirpekel/ainulindale/internal/board"
	"github.com/kadirpekel/ainulindale/internal/hexmath"
	"github.com/kadirpekel/ainulindale/internal/plugin"
	"github.com/kadirpekel/ainulindale/internal/rbac"
	"github.com/kadirpekel/ainulindale/internal/rulefile"
)

// ToolBinding is one reachable, RBAC-permitted tool operation, resolved to
// the hex it's reached from (spec §4.10 "Tools — enumeration of reachable,
// RBAC-permitted tools, grouped by source hex").
type ToolBinding struct {
	SourceHexKey hexmath.HexKey
	ToolEntityID string
	ToolType     string
	Def          plugin.ToolDef
}

// workspaceAware is implemented by plugins that can report a filesystem
// workspace root and whether writes are permitted (the filesystem plugin).
type workspaceAware interface {
	Workspace() string
	CanWrite() bool
}

// shellAware is implemented by plugins that can report their configured
// shell interpreter (the shell plugin).
type shellAware interface {
	ShellKind() string
}

// ReachableTools enumerates every tool operation that requesterHex can
// exercise on b, per the RBAC check (spec §4.3/§4.9 step 3.b). Results are
// sorted by source hex then tool name for a stable prompt rendering.
func ReachableTools(b *board.Board, registry *plugin.Registry, requesterHex hexmath.HexKey) []ToolBinding {
	var out []ToolBinding
	for entityID, occ := range b.Entities() {
		tool, ok := occ.(*board.ToolEntity)
		if !ok {
			continue
		}
		hexKey, ok := b.HexByEntity(entityID)
		if !ok {
			continue
		}
		p, ok := registry.Get(tool.ToolType)
		if !ok || !p.IsAvailable() {
			continue
		}
		for _, def := range p.Tools() {
			if !rbac.CheckPermission(tool, hexKey, requesterHex, def.Permission).Allowed {
				continue
			}
			out = append(out, ToolBinding{
				SourceHexKey: hexKey,
				ToolEntityID: entityID,
				ToolType:     tool.ToolType,
				Def:          def,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceHexKey != out[j].SourceHexKey {
			return out[i].SourceHexKey < out[j].SourceHexKey
		}
		return out[i].Def.Name < out[j].Def.Name
	})
	return out
}

// workspaceAndShell applies the spec §4.10 heuristic: the first filesystem
// tool with write permission defines the workspace; the first shell tool
// defines the shell kind. Both may be absent.
func workspaceAndShell(bindings []ToolBinding, registry *plugin.Registry) (workspace, shellKind string) {
	seen := make(map[string]bool)
	for _, b := range bindings {
		if seen[b.ToolType] {
			continue
		}
		seen[b.ToolType] = true
		p, ok := registry.Get(b.ToolType)
		if !ok {
			continue
		}
		if workspace == "" {
			if wa, ok := p.(workspaceAware); ok && wa.CanWrite() {
				workspace = wa.Workspace()
			}
		}
		if shellKind == "" {
			if sa, ok := p.(shellAware); ok {
				shellKind = sa.ShellKind()
			}
		}
	}
	return workspace, shellKind
}

// EquippedRulefile pairs a resolved rulefile with the per-rule overrides an
// agent applies to it (board.RulefileEquip, resolved against the actual
// rulefile.Rulefile content).
type EquippedRulefile struct {
	Rulefile  rulefile.Rulefile
	Overrides []rulefile.Override
}

// Request carries everything Compose needs to assemble a system prompt.
type Request struct {
	AgentID      string
	AgentName    string
	Template     string // selects the Role Guidelines block
	Board        *board.Board
	Registry     *plugin.Registry
	RequesterHex hexmath.HexKey
	Rulefiles    []EquippedRulefile // in equip order
	CustomPrompt string             // agent.SystemPrompt, verbatim
	Now          time.Time
}

const behavioralGuidelines = `Operate deliberately: read before you write, verify assumptions with tools rather than guessing, and prefer the smallest change that satisfies the task. Report failures plainly instead of fabricating success.`

const taskCompletionProtocol = `When the task is fully done, say so explicitly by ending your final message with the line:
TASK_COMPLETE: <one-line summary>
Do not emit this line until every part of the task is finished.`

var roleGuidelines = map[string]string{
	"": "You are a general-purpose agent. Use the tools available to you to complete the assigned task.",
	"researcher": "You are a researcher. Gather and cross-check information before drawing conclusions; cite what you read from.",
	"coder":      "You are a software engineer. Favor correctness and minimal diffs; run the tools available to you to verify your changes where possible.",
	"reviewer":   "You are a reviewer. Look for defects and risks rather than restating what the change does; be specific about failure scenarios.",
}

// Compose assembles the system prompt in the exact seven-section order
// required by spec §4.10.
func Compose(req Request) string {
	var sb strings.Builder

	bindings := ReachableTools(req.Board, req.Registry, req.RequesterHex)
	workspace, shellKind := workspaceAndShell(bindings, req.Registry)

	writeSection(&sb, environmentSection(req, workspace, shellKind))
	writeSection(&sb, toolsSection(bindings))
	writeSection(&sb, behavioralGuidelines)
	writeSection(&sb, roleGuideline(req.Template))
	writeSection(&sb, taskCompletionProtocol)
	writeSection(&sb, rulefilesSection(req.Rulefiles))
	writeSection(&sb, strings.TrimSpace(req.CustomPrompt))

	return strings.TrimSpace(sb.String())
}

func writeSection(sb *strings.Builder, content string) {
	if content == "" {
		return
	}
	if sb.Len() > 0 {
		sb.WriteString("\n\n")
	}
	sb.WriteString(content)
}

func environmentSection(req Request, workspace, shellKind string) string {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Agent: %s (%s)\n", req.AgentName, req.AgentID)
	fmt.Fprintf(&b, "Date: %s\n", now.Format("2006-01-02"))
	fmt.Fprintf(&b, "Platform: %s\n", runtime.GOOS)
	if workspace != "" {
		fmt.Fprintf(&b, "Workspace: %s\n", workspace)
	}
	if shellKind != "" {
		fmt.Fprintf(&b, "Shell: %s\n", shellKind)
	}
	return strings.TrimRight(b.String(), "\n")
}

func toolsSection(bindings []ToolBinding) string {
	if len(bindings) == 0 {
		return "No tools are currently reachable."
	}
	byHex := make(map[hexmath.HexKey][]ToolBinding)
	var hexOrder []hexmath.HexKey
	for _, tb := range bindings {
		if _, ok := byHex[tb.SourceHexKey]; !ok {
			hexOrder = append(hexOrder, tb.SourceHexKey)
		}
		byHex[tb.SourceHexKey] = append(byHex[tb.SourceHexKey], tb)
	}
	sort.Slice(hexOrder, func(i, j int) bool { return hexOrder[i] < hexOrder[j] })

	var b strings.Builder
	b.WriteString("Tools:")
	for _, hexKey := range hexOrder {
		fmt.Fprintf(&b, "\n\nFrom %s:", hexKey)
		for _, tb := range byHex[hexKey] {
			fmt.Fprintf(&b, "\n- %s: %s", tb.Def.Name, tb.Def.Description)
			for _, p := range paramDocs(tb.Def.Schema) {
				b.WriteString("\n  " + p)
			}
		}
	}
	return b.String()
}

// paramDocs derives "name (type, required): description" lines from a
// JSON-Schema map, per spec §4.10 "parameter documentation is derived from
// the plugin schema".
func paramDocs(schema map[string]any) []string {
	if schema == nil {
		return nil
	}
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}
	required := make(map[string]bool)
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		typ, _ := prop["type"].(string)
		desc, _ := prop["description"].(string)
		reqFlag := ""
		if required[name] {
			reqFlag = ", required"
		}
		line := fmt.Sprintf("%s (%s%s)", name, typ, reqFlag)
		if desc != "" {
			line += ": " + desc
		}
		out = append(out, line)
	}
	return out
}

func roleGuideline(template string) string {
	if g, ok := roleGuidelines[template]; ok {
		return g
	}
	return roleGuidelines[""]
}

func rulefilesSection(equipped []EquippedRulefile) string {
	var parts []string
	for _, e := range equipped {
		rendered := rulefile.Render(e.Rulefile, e.Overrides)
		if rendered != "" {
			parts = append(parts, rendered)
		}
	}
	return strings.Join(parts, "\n\n")
}

// UserMessage builds the user message for a claimed task (spec §4.10: task
// title optionally followed by its description).
func UserMessage(title, description string) string {
	if description == "" {
		return title
	}
	return title + "\n\n" + description
}
