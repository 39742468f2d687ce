package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/kadirpekel/ainulindale/internal/board"
	"github.com/kadirpekel/ainulindale/internal/hexmath"
	"github.com/kadirpekel/ainulindale/internal/plugin"
	"github.com/kadirpekel/ainulindale/internal/plugin/filesystem"
	"github.com/kadirpekel/ainulindale/internal/rulefile"
)

func newTestBoard(t *testing.T, canWrite bool) (*board.Board, *plugin.Registry, hexmath.HexKey, hexmath.HexKey) {
	t.Helper()
	b := board.New("b1", 2)
	registry := plugin.NewRegistry()

	fsPlugin := filesystem.New()
	if err := fsPlugin.Initialize(map[string]any{
		"working_directory": t.TempDir(),
		"can_write":          canWrite,
	}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := registry.Register(fsPlugin); err != nil {
		t.Fatalf("Register: %v", err)
	}

	origin := hexmath.AxialCoord{Q: 0, R: 0}.Key()
	neighbor := hexmath.AxialCoord{Q: 1, R: 0}.Key()

	agent := &board.AgentEntity{
		Entity:   board.Entity{ID: "agent-1", Name: "Agent One", Category: board.CategoryAgent},
		Template: "coder",
	}
	if err := b.PlaceEntity(origin, agent); err != nil {
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
			UseZones:           false,
			DefaultPermissions: []board.Permission{board.PermRead, board.PermWrite},
		},
	}
	if err := b.PlaceEntity(neighbor, tool); err != nil {
		t.Fatalf("PlaceEntity tool: %v", err)
	}

	return b, registry, origin, neighbor
}

func TestReachableToolsFiltersByRBAC(t *testing.T) {
	b, registry, origin, _ := newTestBoard(t, true)
	bindings := ReachableTools(b, registry, origin)
	if len(bindings) == 0 {
		t.Fatal("expected at least one reachable tool")
	}
	for _, tb := range bindings {
		if !strings.HasPrefix(tb.Def.Name, "filesystem_") {
			t.Errorf("unexpected tool name %q", tb.Def.Name)
		}
	}
}

func TestWorkspaceAndShellDetectionRequiresWritePermission(t *testing.T) {
	b, registry, origin, _ := newTestBoard(t, false)
	bindings := ReachableTools(b, registry, origin)
	workspace, shellKind := workspaceAndShell(bindings, registry)
	if workspace != "" {
		t.Errorf("expected no workspace without write permission, got %q", workspace)
	}
	if shellKind != "" {
		t.Errorf("expected no shell kind, got %q", shellKind)
	}

	bWrite, registryWrite, originWrite, _ := newTestBoard(t, true)
	bindingsWrite := ReachableTools(bWrite, registryWrite, originWrite)
	workspace, _ = workspaceAndShell(bindingsWrite, registryWrite)
	if workspace == "" {
		t.Error("expected a workspace when a writable filesystem tool is reachable")
	}
}

func TestComposeProducesSevenSectionsInOrder(t *testing.T) {
	b, registry, origin, _ := newTestBoard(t, true)
	rf := rulefile.Rulefile{
		ID:      "rf-1",
		Name:    "House Style",
		Content: "Always write tests.",
	}
	req := Request{
		AgentID:      "agent-1",
		AgentName:    "Agent One",
		Template:     "coder",
		Board:        b,
		Registry:     registry,
		RequesterHex: origin,
		Rulefiles:    []EquippedRulefile{{Rulefile: rf}},
		CustomPrompt: "Never touch production credentials.",
		Now:          time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC),
	}
	out := Compose(req)

	wantInOrder := []string{
		"Agent: Agent One",
		"Date: 2026-07-29",
		"Tools:",
		behavioralGuidelines,
		roleGuidelines["coder"],
		"TASK_COMPLETE:",
		"Always write tests.",
		"Never touch production credentials.",
	}
	lastIdx := -1
	for _, want := range wantInOrder {
		idx := strings.Index(out, want)
		if idx == -1 {
			t.Fatalf("expected prompt to contain %q, got:\n%s", want, out)
		}
		if idx <= lastIdx {
			t.Fatalf("expected %q to appear after previous section", want)
		}
		lastIdx = idx
	}
}

func TestUserMessageWithAndWithoutDescription(t *testing.T) {
	if got := UserMessage("Title only", ""); got != "Title only" {
		t.Errorf("got %q", got)
	}
	if got := UserMessage("Title", "Body"); got != "Title\n\nBody" {
		t.Errorf("got %q", got)
	}
}
