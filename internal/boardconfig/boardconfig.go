// Package boardconfig loads a board's YAML definition file — hex radius,
// agents, tools, and RBAC zones — into an internal/board.Board, the same
// way the teacher loads its agent YAML configs into runtime types.
package boardconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/ainulindale/internal/board"
	"github.com/kadirpekel/ainulindale/internal/hexmath"
)

// Config is the on-disk YAML shape of a board definition.
type Config struct {
	ID          string            `yaml:"id"`
	Radius      int               `yaml:"radius"`
	Agents      []AgentEntry      `yaml:"agents"`
	Tools       []ToolEntry       `yaml:"tools"`
	Connections []ConnectionEntry `yaml:"connections"`
}

// ConnectionEntry declares one user-intent edge between two hexes. Edges are
// visualization-only and never affect routing.
type ConnectionEntry struct {
	From CoordEntry `yaml:"from"`
	To   CoordEntry `yaml:"to"`
	Type string     `yaml:"type"`
}

// AgentEntry places one agent entity on the board.
type AgentEntry struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name"`
	Hex          CoordEntry    `yaml:"hex"`
	Template     string        `yaml:"template"`
	Provider     string        `yaml:"provider"`
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"system_prompt"`
	Temperature  float64       `yaml:"temperature"`
	Rulefiles    []RulefileRef `yaml:"rulefiles"`
}

// RulefileRef equips a rulefile id onto an agent.
type RulefileRef struct {
	RulefileID string          `yaml:"rulefile_id"`
	Enabled    bool            `yaml:"enabled"`
	Overrides  []OverrideEntry `yaml:"overrides"`
}

// OverrideEntry replaces a single rule's content and/or enabled flag for the
// equipping agent only. A nil field leaves the rule's own value in place.
type OverrideEntry struct {
	RuleID  string  `yaml:"rule_id"`
	Content *string `yaml:"content"`
	Enabled *bool   `yaml:"enabled"`
}

// ToolEntry places one tool entity on the board.
type ToolEntry struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Hex         CoordEntry   `yaml:"hex"`
	ToolType    string       `yaml:"tool_type"`
	Config      yaml.Node    `yaml:"config"`
	Range       int          `yaml:"range"`
	LinkingMode string       `yaml:"linking_mode"`
	LinkedHexes []CoordEntry `yaml:"linked_hexes"`
	RBAC        RBACEntry    `yaml:"rbac"`
}

// RBACEntry is the YAML shape of a ToolEntity's RBACConfig.
type RBACEntry struct {
	Enabled            bool     `yaml:"enabled"`
	DefaultRole        string   `yaml:"default_role"`
	DefaultPermissions []string `yaml:"default_permissions"`
	UseZones           bool     `yaml:"use_zones"`
	Zones              struct {
		Read      []string `yaml:"read"`
		Write     []string `yaml:"write"`
		ReadWrite []string `yaml:"read_write"`
		ExecuteInAllZones bool `yaml:"execute_in_all_zones"`
	} `yaml:"zones"`
	AccessGrants []GrantEntry `yaml:"access_grants"`
	DenyList     []CoordEntry `yaml:"deny_list"`
}

// GrantEntry is an explicit-mode permission grant to a specific hex.
type GrantEntry struct {
	Hex         CoordEntry `yaml:"hex"`
	Permissions []string   `yaml:"permissions"`
}

// CoordEntry is an axial coordinate pair.
type CoordEntry struct {
	Q int `yaml:"q"`
	R int `yaml:"r"`
}

func (c CoordEntry) key() hexmath.HexKey {
	return hexmath.AxialCoord{Q: c.Q, R: c.R}.Key()
}

// Load reads and parses a board definition file from disk.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("boardconfig: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("boardconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Build constructs a board.Board from a parsed Config, placing every agent
// and tool entity at its declared hex.
func Build(cfg Config) (*board.Board, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("boardconfig: id is required")
	}
	b := board.New(cfg.ID, cfg.Radius)

	for _, a := range cfg.Agents {
		rulefiles := make([]board.RulefileEquip, 0, len(a.Rulefiles))
		for _, rf := range a.Rulefiles {
			overrides := make([]board.RuleOverride, 0, len(rf.Overrides))
			for _, ov := range rf.Overrides {
				overrides = append(overrides, board.RuleOverride{
					RuleID:  ov.RuleID,
					Content: ov.Content,
					Enabled: ov.Enabled,
				})
			}
			rulefiles = append(rulefiles, board.RulefileEquip{
				RulefileID: rf.RulefileID,
				Enabled:    rf.Enabled,
				Overrides:  overrides,
			})
		}
		entity := &board.AgentEntity{
			Entity:            board.Entity{ID: a.ID, Name: a.Name, Category: board.CategoryAgent},
			Template:          a.Template,
			Provider:          a.Provider,
			Model:             a.Model,
			SystemPrompt:      a.SystemPrompt,
			Temperature:       a.Temperature,
			EquippedRulefiles: rulefiles,
		}
		if err := b.PlaceEntity(a.Hex.key(), entity); err != nil {
			return nil, fmt.Errorf("boardconfig: place agent %s: %w", a.ID, err)
		}
	}

	for _, t := range cfg.Tools {
		var rawConfig map[string]any
		if !t.Config.IsZero() {
			if err := t.Config.Decode(&rawConfig); err != nil {
				return nil, fmt.Errorf("boardconfig: decode config for tool %s: %w", t.ID, err)
			}
		}
		linking := board.LinkingRange
		if t.LinkingMode == "explicit" {
			linking = board.LinkingExplicit
		}
		var linked map[hexmath.HexKey]struct{}
		if len(t.LinkedHexes) > 0 {
			linked = make(map[hexmath.HexKey]struct{}, len(t.LinkedHexes))
			for _, h := range t.LinkedHexes {
				linked[h.key()] = struct{}{}
			}
		}
		entity := &board.ToolEntity{
			Entity:       board.Entity{ID: t.ID, Name: t.Name, Category: board.CategoryTool},
			ToolType:     t.ToolType,
			Config:       rawConfig,
			IsConfigured: rawConfig != nil,
			Range:        t.Range,
			LinkingMode:  linking,
			LinkedHexes:  linked,
			RBACConfig:   buildRBAC(t.RBAC),
		}
		if err := b.PlaceEntity(t.Hex.key(), entity); err != nil {
			return nil, fmt.Errorf("boardconfig: place tool %s: %w", t.ID, err)
		}
	}

	for _, c := range cfg.Connections {
		typ := board.ConnectionType(c.Type)
		if typ == "" {
			typ = board.ConnectionFlow
		}
		if _, err := b.AddConnection(c.From.key(), c.To.key(), typ); err != nil {
			return nil, fmt.Errorf("boardconfig: add connection %s->%s: %w", c.From.key(), c.To.key(), err)
		}
	}

	return b, nil
}

func buildRBAC(e RBACEntry) board.RBACConfig {
	grants := make([]board.AccessGrant, 0, len(e.AccessGrants))
	for _, g := range e.AccessGrants {
		grants = append(grants, board.AccessGrant{
			TargetHexKey: g.Hex.key(),
			Permissions:  permissions(g.Permissions),
		})
	}
	deny := make([]hexmath.HexKey, 0, len(e.DenyList))
	for _, d := range e.DenyList {
		deny = append(deny, d.key())
	}
	return board.RBACConfig{
		Enabled:            e.Enabled,
		DefaultRole:        e.DefaultRole,
		DefaultPermissions: permissions(e.DefaultPermissions),
		UseZones:           e.UseZones,
		ZoneConfig: board.ZoneConfig{
			ReadZone:          directions(e.Zones.Read),
			WriteZone:         directions(e.Zones.Write),
			ReadWriteZone:     directions(e.Zones.ReadWrite),
			ExecuteInAllZones: e.Zones.ExecuteInAllZones,
		},
		AccessGrants: grants,
		DenyList:     deny,
	}
}

func permissions(names []string) []board.Permission {
	out := make([]board.Permission, 0, len(names))
	for _, n := range names {
		out = append(out, board.Permission(n))
	}
	return out
}

func directions(names []string) []hexmath.Direction {
	out := make([]hexmath.Direction, 0, len(names))
	for _, n := range names {
		out = append(out, hexmath.Direction(n))
	}
	return out
}

// PluginConfigs extracts initialization-time defaults per tool type, the
// shape Registry.InitializeAll expects. These configure each plugin's
// shared base (e.g. the filesystem watcher) once at board start; when
// several tools share a type, their maps merge key-by-key in declaration
// order, later entries winning. Per-entity differences still take full
// effect at dispatch time, where each call carries its own ToolEntity's
// config through Registry.ExecuteTool.
func PluginConfigs(cfg Config) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(cfg.Tools))
	for _, t := range cfg.Tools {
		var raw map[string]any
		if !t.Config.IsZero() {
			if err := t.Config.Decode(&raw); err != nil {
				return nil, fmt.Errorf("boardconfig: decode config for tool %s: %w", t.ID, err)
			}
		}
		if existing, ok := out[t.ToolType]; ok && existing != nil {
			for k, v := range raw {
				existing[k] = v
			}
			continue
		}
		out[t.ToolType] = raw
	}
	return out, nil
}
