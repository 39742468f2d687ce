package rulefile

import "testing"

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	r := Rulefile{
		ID:       "rf-1",
		Name:     "Coding Standards",
		Category: "engineering",
		Tags:     []string{"go", "style"},
		Rules: []Rule{
			{ID: "r1", Name: "No globals", Content: "Avoid global mutable state.", Priority: 1, Enabled: true},
		},
		IsBuiltin: true,
		Version:   "1.0.0",
	}

	data, err := Serialize(r)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got.ID != r.ID || got.Name != r.Name || len(got.Rules) != 1 || got.Rules[0].Content != r.Rules[0].Content {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, r)
	}
}

func TestRenderPrefersContentField(t *testing.T) {
	r := Rulefile{Content: "verbatim content"}
	if got := Render(r, nil); got != "verbatim content" {
		t.Errorf("Render = %q, want verbatim content", got)
	}
}

func TestRenderSortsRulesByPriorityDescending(t *testing.T) {
	r := Rulefile{
		Rules: []Rule{
			{ID: "low", Content: "low-priority", Priority: 1, Enabled: true},
			{ID: "high", Content: "high-priority", Priority: 10, Enabled: true},
		},
	}
	got := Render(r, nil)
	want := "high-priority\nlow-priority"
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestRenderSkipsDisabledRules(t *testing.T) {
	r := Rulefile{
		Rules: []Rule{
			{ID: "a", Content: "keep", Priority: 1, Enabled: true},
			{ID: "b", Content: "drop", Priority: 2, Enabled: false},
		},
	}
	if got := Render(r, nil); got != "keep" {
		t.Errorf("Render = %q, want keep", got)
	}
}

func TestRenderAppliesOverrides(t *testing.T) {
	r := Rulefile{
		Rules: []Rule{
			{ID: "a", Content: "original", Priority: 1, Enabled: true},
			{ID: "b", Content: "stays-disabled-by-default", Priority: 2, Enabled: false},
		},
	}
	overriddenContent := "overridden"
	enableIt := true
	overrides := []Override{
		{RuleID: "a", Content: &overriddenContent},
		{RuleID: "b", Enabled: &enableIt},
	}
	got := Render(r, overrides)
	want := "stays-disabled-by-default\noverridden"
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}
