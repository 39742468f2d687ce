// Package rulefile models reusable, priority-ordered instruction blocks
// attached to agents (spec §3 "Rulefile", §4.10 step 6). Rulefiles arrive
// pre-parsed from an external store; this package only models their shape
// and equip-time rendering, not an authoring UI (explicitly out of scope).
package rulefile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one priority-ordered instruction block within a Rulefile.
type Rule struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Content  string `yaml:"content"`
	Priority int    `yaml:"priority"`
	Enabled  bool   `yaml:"enabled"`
}

// Rulefile is a reusable, externally-stored instruction block (spec §3).
type Rulefile struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Category  string   `yaml:"category"`
	Tags      []string `yaml:"tags,omitempty"`
	Rules     []Rule   `yaml:"rules,omitempty"`
	Content   string   `yaml:"content,omitempty"`
	IsBuiltin bool     `yaml:"is_builtin"`
	Version   string   `yaml:"version"`
}

// Override replaces a rule's content and/or enabled flag at equip time
// (spec §4.10 step 6, "Per-rule overrides from the agent may replace rule
// content"; SPEC_FULL.md's supplemented-feature #1 makes "and/or flip
// enabled" concrete).
type Override struct {
	RuleID  string
	Content *string
	Enabled *bool
}

// Serialize encodes r as YAML, matching the external-store shape noted in
// spec §9 ("Rulefiles stored externally use {id, name, category, tags,
// rules[], ...}").
func Serialize(r Rulefile) ([]byte, error) {
	return yaml.Marshal(r)
}

// Deserialize parses YAML produced by Serialize. Serialize∘Deserialize is
// the identity (spec §8.2 round-trip law).
func Deserialize(data []byte) (Rulefile, error) {
	var r Rulefile
	err := yaml.Unmarshal(data, &r)
	return r, err
}

// Render produces the rulefile's contribution to the Equipped Rulefiles
// prompt section (spec §4.10 step 6): the rulefile's own Content field if
// present, else its enabled rules sorted by priority descending, each
// overridden per overrides before concatenation.
func Render(r Rulefile, overrides []Override) string {
	if r.Content != "" {
		return r.Content
	}

	byID := make(map[string]Override, len(overrides))
	for _, o := range overrides {
		byID[o.RuleID] = o
	}

	rules := make([]Rule, len(r.Rules))
	copy(rules, r.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	var out string
	for _, rule := range rules {
		enabled := rule.Enabled
		content := rule.Content
		if o, ok := byID[rule.ID]; ok {
			if o.Enabled != nil {
				enabled = *o.Enabled
			}
			if o.Content != nil {
				content = *o.Content
			}
		}
		if !enabled {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += content
	}
	return out
}

// LoadDir reads every *.yaml/*.yml file in dir as a Serialize-d Rulefile
// and returns them keyed by ID, the on-disk layout an external rulefile
// store (spec §6.5) would hand to a board's boardconfig loader.
func LoadDir(dir string) (map[string]Rulefile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("rulefile: read dir %s: %w", dir, err)
	}
	out := make(map[string]Rulefile, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("rulefile: read %s: %w", entry.Name(), err)
		}
		rf, err := Deserialize(data)
		if err != nil {
			return nil, fmt.Errorf("rulefile: parse %s: %w", entry.Name(), err)
		}
		if rf.ID == "" {
			return nil, fmt.Errorf("rulefile: %s has no id", entry.Name())
		}
		out[rf.ID] = rf
	}
	return out, nil
}
