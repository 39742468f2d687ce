// Package rbac implements the directional zone RBAC model described in
// spec §4.3/§4.4: given a requester hex and a resource tool entity, decide
// whether a permission is allowed, purely as a function of topology.
package rbac

import (
	"fmt"

	"github.com/kadirpekel/ainulindale/internal/board"
	"github.com/kadirpekel/ainulindale/internal/hexmath"
)

// Decision is the result of a permission check, including the reasoning
// used for display/debugging (it never affects the Allowed verdict).
type Decision struct {
	Allowed bool
	Reason  string
}

func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(reason string) Decision  { return Decision{Allowed: false, Reason: reason} }

// CheckPermission decides whether requesterHex may exercise perm against
// resource, which sits at resourceHex. It is a pure function of its
// arguments (spec invariant I6).
func CheckPermission(resource *board.ToolEntity, resourceHex, requesterHex hexmath.HexKey, perm board.Permission) Decision {
	cfg := resource.RBACConfig

	if !cfg.Enabled {
		if CanReach(resource, resourceHex, requesterHex) {
			return allow("RBAC disabled; requester is reachable")
		}
		return deny("RBAC disabled and requester is not reachable")
	}

	for _, denied := range cfg.DenyList {
		if denied == requesterHex {
			return deny(fmt.Sprintf("hex %s is on the deny list", requesterHex))
		}
	}

	if resource.LinkingMode == board.LinkingExplicit {
		for _, grant := range cfg.AccessGrants {
			if grant.TargetHexKey != requesterHex {
				continue
			}
			if hasPermission(grant.Permissions, perm) {
				return allow(fmt.Sprintf("explicit grant to %s includes %s", requesterHex, perm))
			}
			return deny(fmt.Sprintf("explicit grant to %s does not include %s", requesterHex, perm))
		}
		return deny(fmt.Sprintf("no explicit grant for hex %s", requesterHex))
	}

	// range mode
	if !CanReach(resource, resourceHex, requesterHex) {
		d := hexmath.Distance(resourceHex.Coord(), requesterHex.Coord())
		return deny(fmt.Sprintf("Not within range (distance: %d, range: %d)", d, resource.Range))
	}

	if !cfg.UseZones {
		if hasPermission(cfg.DefaultPermissions, perm) {
			return allow("within range; default permissions include " + string(perm))
		}
		return deny("within range; default permissions do not include " + string(perm))
	}

	dir, ok := hexmath.DirectionOf(resourceHex.Coord(), requesterHex.Coord())
	if !ok {
		return deny("requester occupies the same hex as the resource")
	}
	perms := permissionsForDirection(cfg.ZoneConfig, dir)
	if hasPermission(perms, perm) {
		return allow(fmt.Sprintf("direction %s grants %s", dir, perm))
	}
	return deny(fmt.Sprintf("direction %s does not grant %s", dir, perm))
}

// permissionsForDirection returns the set of permissions the zone
// containing dir grants, including execute if ExecuteInAllZones is set.
// A direction absent from every zone grants nothing (spec §9 open
// question: "absence from every zone is deny all under executeInAllZones").
func permissionsForDirection(zc board.ZoneConfig, dir hexmath.Direction) []board.Permission {
	var perms []board.Permission
	switch {
	case containsDirection(zc.ReadZone, dir):
		perms = append(perms, board.PermRead)
	case containsDirection(zc.WriteZone, dir):
		perms = append(perms, board.PermWrite)
	case containsDirection(zc.ReadWriteZone, dir):
		perms = append(perms, board.PermRead, board.PermWrite)
	}
	if zc.ExecuteInAllZones && len(perms) > 0 {
		perms = append(perms, board.PermExecute)
	}
	return perms
}

func containsDirection(set []hexmath.Direction, d hexmath.Direction) bool {
	for _, x := range set {
		if x == d {
			return true
		}
	}
	return false
}

func hasPermission(set []board.Permission, p board.Permission) bool {
	for _, x := range set {
		if x == p {
			return true
		}
	}
	return false
}

// CanReach implements reachability (spec §4.4): in range mode, true iff
// 0 < distance <= range; in explicit mode, true iff target is linked.
func CanReach(resource *board.ToolEntity, resourceHex, target hexmath.HexKey) bool {
	if resource.LinkingMode == board.LinkingExplicit {
		_, ok := resource.LinkedHexes[target]
		return ok
	}
	if target == resourceHex {
		return false
	}
	d := hexmath.Distance(resourceHex.Coord(), target.Coord())
	return d > 0 && d <= resource.Range
}

// ReachableTargets enumerates every hex on b that resource (at resourceHex)
// reaches, the inverse of CanReach, used by the actor runtime for routing
// (spec §4.4).
func ReachableTargets(resource *board.ToolEntity, resourceHex hexmath.HexKey, allHexes map[hexmath.HexKey]hexmath.AxialCoord) []hexmath.HexKey {
	var out []hexmath.HexKey
	if resource.LinkingMode == board.LinkingExplicit {
		for key := range resource.LinkedHexes {
			out = append(out, key)
		}
		return out
	}
	for key := range allHexes {
		if CanReach(resource, resourceHex, key) {
			out = append(out, key)
		}
	}
	return out
}

// ZoneHex describes one hex affected by a resource's zone configuration,
// used by zoneVisualization (spec §4.3) — the same classification
// algorithm CheckPermission uses, exposed for display.
type ZoneHex struct {
	HexKey   hexmath.HexKey
	Distance int
	ZoneType string // "read" | "write" | "read-write" | "none"
}

// ZoneVisualization enumerates every hex within resource's range (or an
// explicit override range) along with the zone type the direction from
// resourceHex to that hex falls into.
func ZoneVisualization(resource *board.ToolEntity, resourceHex hexmath.HexKey, overrideRange *int) []ZoneHex {
	r := resource.Range
	if overrideRange != nil {
		r = *overrideRange
	}
	center := resourceHex.Coord()
	var out []ZoneHex
	for q := -r; q <= r; q++ {
		for rr := -r; rr <= r; rr++ {
			cand := hexmath.AxialCoord{Q: center.Q + q, R: center.R + rr}
			d := hexmath.Distance(center, cand)
			if d == 0 || d > r {
				continue
			}
			key := cand.Key()
			zoneType := "none"
			if resource.RBACConfig.UseZones {
				dir, ok := hexmath.DirectionOf(center, cand)
				if ok {
					perms := permissionsForDirection(resource.RBACConfig.ZoneConfig, dir)
					zoneType = classifyZone(perms)
				}
			} else {
				zoneType = classifyZone(resource.RBACConfig.DefaultPermissions)
			}
			out = append(out, ZoneHex{HexKey: key, Distance: d, ZoneType: zoneType})
		}
	}
	return out
}

func classifyZone(perms []board.Permission) string {
	hasRead := hasPermission(perms, board.PermRead)
	hasWrite := hasPermission(perms, board.PermWrite)
	switch {
	case hasRead && hasWrite:
		return "read-write"
	case hasRead:
		return "read"
	case hasWrite:
		return "write"
	default:
		return "none"
	}
}
