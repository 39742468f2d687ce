package rbac

import (
	"testing"

	"github.com/kadirpekel/ainulindale/internal/board"
	"github.com/kadirpekel/ainulindale/internal/hexmath"
)

func keyOf(q, r int) hexmath.HexKey {
	return hexmath.AxialCoord{Q: q, R: r}.Key()
}

// S1 — Neighbor reach, range=1.
func TestScenarioS1NeighborReach(t *testing.T) {
	tool := &board.ToolEntity{
		Entity:      board.Entity{ID: "fs1", Category: board.CategoryTool},
		Range:       1,
		LinkingMode: board.LinkingRange,
		RBACConfig: board.RBACConfig{
			Enabled:            true,
			UseZones:           false,
			DefaultPermissions: []board.Permission{board.PermRead, board.PermExecute},
		},
	}
	toolHex := keyOf(1, 0)

	d := CheckPermission(tool, toolHex, keyOf(0, 0), board.PermRead)
	if !d.Allowed {
		t.Fatalf("expected allow at distance 1, got deny: %s", d.Reason)
	}

	d2 := CheckPermission(tool, toolHex, keyOf(3, 0), board.PermRead)
	if d2.Allowed {
		t.Fatal("expected deny at distance 2 with range 1")
	}
	if d2.Reason != "Not within range (distance: 2, range: 1)" {
		t.Errorf("unexpected reason: %q", d2.Reason)
	}
}

// S2 — Zone split: read-left-write-right (read on NW/SW/S, write on
// NE/SE/N).
func TestScenarioS2ZoneSplit(t *testing.T) {
	tool := &board.ToolEntity{
		Entity:      board.Entity{ID: "t1", Category: board.CategoryTool},
		Range:       1,
		LinkingMode: board.LinkingRange,
		RBACConfig: board.RBACConfig{
			Enabled:  true,
			UseZones: true,
			ZoneConfig: board.ZoneConfig{
				ReadZone:  []hexmath.Direction{hexmath.NW, hexmath.SW, hexmath.S},
				WriteZone: []hexmath.Direction{hexmath.NE, hexmath.SE, hexmath.N},
			},
		},
	}
	toolHex := keyOf(0, 0)

	nw := keyOf(-1, 0)
	if d := CheckPermission(tool, toolHex, nw, board.PermRead); !d.Allowed {
		t.Errorf("NW requester should be allowed read: %s", d.Reason)
	}
	if d := CheckPermission(tool, toolHex, nw, board.PermWrite); d.Allowed {
		t.Error("NW requester should be denied write")
	}

	se := keyOf(1, 0)
	if d := CheckPermission(tool, toolHex, se, board.PermWrite); !d.Allowed {
		t.Errorf("SE requester should be allowed write: %s", d.Reason)
	}
	if d := CheckPermission(tool, toolHex, se, board.PermRead); d.Allowed {
		t.Error("SE requester should be denied read")
	}

	s := keyOf(0, 1)
	if d := CheckPermission(tool, toolHex, s, board.PermRead); !d.Allowed {
		t.Errorf("S requester should be allowed read: %s", d.Reason)
	}
	if d := CheckPermission(tool, toolHex, s, board.PermWrite); d.Allowed {
		t.Error("S requester should be denied write")
	}
}

func TestDenyListWins(t *testing.T) {
	tool := &board.ToolEntity{
		Entity:      board.Entity{ID: "t1", Category: board.CategoryTool},
		Range:       5,
		LinkingMode: board.LinkingRange,
		RBACConfig: board.RBACConfig{
			Enabled:            true,
			DefaultPermissions: []board.Permission{board.PermRead},
			DenyList:           []hexmath.HexKey{keyOf(1, 0)},
		},
	}
	d := CheckPermission(tool, keyOf(0, 0), keyOf(1, 0), board.PermRead)
	if d.Allowed {
		t.Fatal("deny list entry should override default allow")
	}
}

func TestExplicitLinkingGrants(t *testing.T) {
	requester := keyOf(3, 3)
	tool := &board.ToolEntity{
		Entity:      board.Entity{ID: "t1", Category: board.CategoryTool},
		LinkingMode: board.LinkingExplicit,
		LinkedHexes: map[hexmath.HexKey]struct{}{requester: {}},
		RBACConfig: board.RBACConfig{
			Enabled: true,
			AccessGrants: []board.AccessGrant{
				{TargetHexKey: requester, Permissions: []board.Permission{board.PermRead}},
			},
		},
	}
	if d := CheckPermission(tool, keyOf(0, 0), requester, board.PermRead); !d.Allowed {
		t.Errorf("expected explicit grant to allow read: %s", d.Reason)
	}
	if d := CheckPermission(tool, keyOf(0, 0), requester, board.PermWrite); d.Allowed {
		t.Error("expected explicit grant to deny write (not granted)")
	}
	other := keyOf(9, 9)
	if d := CheckPermission(tool, keyOf(0, 0), other, board.PermRead); d.Allowed {
		t.Error("expected unlinked hex to be denied")
	}
}

// I5 — reachability correctness in range mode.
func TestReachabilityCorrectness(t *testing.T) {
	tool := &board.ToolEntity{
		Entity:      board.Entity{ID: "t1", Category: board.CategoryTool},
		Range:       2,
		LinkingMode: board.LinkingRange,
	}
	toolHex := keyOf(0, 0)
	for q := -4; q <= 4; q++ {
		for r := -4; r <= 4; r++ {
			target := keyOf(q, r)
			d := hexmath.Distance(toolHex.Coord(), target.Coord())
			want := d > 0 && d <= 2
			got := CanReach(tool, toolHex, target)
			if got != want {
				t.Errorf("CanReach(%v) = %v, want %v (distance %d)", target, got, want, d)
			}
		}
	}
}

// I6 — CheckPermission is a pure function of its arguments.
func TestCheckPermissionIsPure(t *testing.T) {
	tool := &board.ToolEntity{
		Entity:      board.Entity{ID: "t1", Category: board.CategoryTool},
		Range:       3,
		LinkingMode: board.LinkingRange,
		RBACConfig: board.RBACConfig{
			Enabled:            true,
			DefaultPermissions: []board.Permission{board.PermRead, board.PermWrite},
		},
	}
	toolHex, req := keyOf(0, 0), keyOf(1, 1)
	first := CheckPermission(tool, toolHex, req, board.PermWrite)
	for i := 0; i < 5; i++ {
		again := CheckPermission(tool, toolHex, req, board.PermWrite)
		if again != first {
			t.Fatalf("CheckPermission is not deterministic: %v != %v", again, first)
		}
	}
}

func TestRBACDisabledFallsBackToReachability(t *testing.T) {
	tool := &board.ToolEntity{
		Entity:      board.Entity{ID: "t1", Category: board.CategoryTool},
		Range:       1,
		LinkingMode: board.LinkingRange,
		RBACConfig:  board.RBACConfig{Enabled: false},
	}
	if d := CheckPermission(tool, keyOf(0, 0), keyOf(1, 0), board.PermAdmin); !d.Allowed {
		t.Errorf("RBAC disabled + reachable should allow any permission: %s", d.Reason)
	}
	if d := CheckPermission(tool, keyOf(0, 0), keyOf(5, 0), board.PermAdmin); d.Allowed {
		t.Error("RBAC disabled + unreachable should deny")
	}
}
