// Package board implements the board model: entities placed on hexes,
// connections between them, and the invariants and lookup indexes described
// in spec §3.2 and §4.2.
package board

import "github.com/kadirpekel/ainulindale/internal/hexmath"

// Category distinguishes the two entity kinds a hex may hold.
type Category string

const (
	CategoryAgent Category = "agent"
	CategoryTool  Category = "tool"
)

// Status is the runtime status shared by every entity.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusActive   Status = "active"
	StatusBusy     Status = "busy"
	StatusWarning  Status = "warning"
	StatusError    Status = "error"
	StatusDisabled Status = "disabled"
)

// Metrics is an optional, opaque bag of observed entity metrics (e.g. calls
// made, last latency); the engine never interprets it, only stores it.
type Metrics map[string]any

// Entity is the common shape of every board occupant. AgentEntity and
// ToolEntity embed it and add their own fields.
type Entity struct {
	ID       string
	Name     string
	Category Category
	Status   Status
	Cost     float64
	Metrics  Metrics
}

// RulefileEquip binds a rulefile to an agent in equip order, with optional
// per-rule overrides (SPEC_FULL.md "Supplemented features" #1).
type RulefileEquip struct {
	RulefileID string
	Enabled    bool
	Overrides  []RuleOverride
}

// RuleOverride replaces a single rule's content and/or enabled flag for the
// agent that equips it, without mutating the shared rulefile.
type RuleOverride struct {
	RuleID  string
	Content *string
	Enabled *bool
}

// AgentEntity is a board occupant that runs an LLM-driven agent loop.
type AgentEntity struct {
	Entity
	Template          string
	Provider          string
	Model             string
	SystemPrompt      string
	Temperature       float64
	EquippedRulefiles []RulefileEquip
}

// LinkingMode selects how a tool decides which hexes it reaches.
type LinkingMode string

const (
	LinkingRange    LinkingMode = "range"
	LinkingExplicit LinkingMode = "explicit"
)

// ZoneConfig partitions the six directions into read/write/read-write zones
// (spec §3.2, invariant I4/I2: a direction must not appear in more than one
// of the three sets).
type ZoneConfig struct {
	ReadZone          []hexmath.Direction
	WriteZone         []hexmath.Direction
	ReadWriteZone     []hexmath.Direction
	ExecuteInAllZones bool
}

// Permission is one of the four access kinds the RBAC engine checks.
type Permission string

const (
	PermRead    Permission = "read"
	PermWrite   Permission = "write"
	PermExecute Permission = "execute"
	PermAdmin   Permission = "admin"
)

// AccessGrant is an explicit-mode grant of permissions to a specific hex.
type AccessGrant struct {
	TargetHexKey hexmath.HexKey
	Permissions  []Permission
}

// RBACConfig is the access-control configuration carried by a ToolEntity.
type RBACConfig struct {
	Enabled            bool
	DefaultRole        string
	DefaultPermissions []Permission
	UseZones           bool
	ZoneConfig         ZoneConfig
	AccessGrants       []AccessGrant
	DenyList           []hexmath.HexKey
}

// ToolEntity is a board occupant that exposes a plugin's operations to
// reachable, permitted agents.
type ToolEntity struct {
	Entity
	ToolType      string
	Config        map[string]any
	IsConfigured  bool
	Range         int
	LinkingMode   LinkingMode
	LinkedHexes   map[hexmath.HexKey]struct{}
	RBACConfig    RBACConfig
}

// ConnectionType labels a Connection for UI visualization only; it never
// affects routing (spec §9 "Cyclic references in connections").
type ConnectionType string

const (
	ConnectionFlow      ConnectionType = "flow"
	ConnectionHierarchy ConnectionType = "hierarchy"
	ConnectionData      ConnectionType = "data"
)

// Connection is a user-intent edge between two hexes. Connections are
// stored as a flat edge list keyed by ID; they may form cycles and are
// never traversed for routing decisions.
type Connection struct {
	ID         string
	FromHexKey hexmath.HexKey
	ToHexKey   hexmath.HexKey
	Type       ConnectionType
}
