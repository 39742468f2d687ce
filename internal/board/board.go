package board

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/kadirpekel/ainulindale/internal/hexmath"
)

// Hex is one cell of the board's hexagon.
type Hex struct {
	Coord    hexmath.AxialCoord
	Key      hexmath.HexKey
	EntityID string // empty when unoccupied
	IsEdge   bool
}

// Occupant is the interface both AgentEntity and ToolEntity satisfy, letting
// the board hold either behind a common pointer without an interface{}
// escape hatch for the fields the engine actually needs.
type Occupant interface {
	EntityID() string
	EntityCategory() Category
	EntityCost() float64
}

func (e *Entity) EntityID() string         { return e.ID }
func (e *Entity) EntityCategory() Category { return e.Category }
func (e *Entity) EntityCost() float64      { return e.Cost }

// Error is a board-model error, e.g. a violated occupancy invariant.
type Error struct {
	Op      string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("board: %s: %s", e.Op, e.Message) }

// Snapshot is the serialized form of a board, as returned by a Persistence
// capability's load(boardId) per spec §6.3.
type Snapshot struct {
	BoardID     string
	Radius      int
	Entities    map[string]Occupant   // entityID -> occupant
	HexByEntity map[string]hexmath.HexKey
	Connections map[string]Connection
}

// Board is the in-memory board model: a bijective hex/coordinate grid, the
// entities occupying it, and the connections drawn between hexes.
type Board struct {
	mu sync.RWMutex

	id     string
	radius int

	hexes       map[hexmath.HexKey]*Hex
	entities    map[string]Occupant       // entityID -> occupant
	hexByEntity map[string]hexmath.HexKey // entityID -> hex
	connections map[string]Connection

	projectedCost float64

	subscribers []func(Event)
}

// Event is published to Board subscribers after any mutation.
type Event struct {
	Type          string // "entity.placed" | "entity.removed" | "entity.updated" | "connection.added" | "connection.removed"
	EntityID      string
	HexKey        hexmath.HexKey
	ProjectedCost float64
}

// New creates an empty board of the given hex radius.
func New(id string, radius int) *Board {
	hexes := hexmath.HexesInRadius(radius)
	b := &Board{
		id:          id,
		radius:      radius,
		hexes:       make(map[hexmath.HexKey]*Hex, len(hexes)),
		entities:    make(map[string]Occupant),
		hexByEntity: make(map[string]hexmath.HexKey),
		connections: make(map[string]Connection),
	}
	for key, coord := range hexes {
		b.hexes[key] = &Hex{
			Coord:  coord,
			Key:    key,
			IsEdge: hexmath.IsEdge(coord, radius),
		}
	}
	return b
}

// ID returns the board's identifier.
func (b *Board) ID() string { return b.id }

// Radius returns the board's hex radius.
func (b *Board) Radius() int { return b.radius }

// Subscribe registers a callback invoked after every mutation.
func (b *Board) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// notify invokes every subscriber with evt. Callers must not hold b.mu:
// subscriber callbacks are free to call back into Board's locking methods
// (e.g. EntityByHex), and notify takes its own RLock to snapshot the
// subscriber list.
func (b *Board) notify(evt Event) {
	b.mu.RLock()
	subs := make([]func(Event), len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(evt)
	}
}

// Hexes returns every hex on the board, keyed by HexKey.
func (b *Board) Hexes() map[hexmath.HexKey]*Hex {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[hexmath.HexKey]*Hex, len(b.hexes))
	for k, v := range b.hexes {
		cp := *v
		out[k] = &cp
	}
	return out
}

// HexAt returns the hex at key, or false if the key is outside the board.
func (b *Board) HexAt(key hexmath.HexKey) (Hex, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.hexes[key]
	if !ok {
		return Hex{}, false
	}
	return *h, true
}

// PlaceEntity places occupant on hexKey. Fails if the hex is out of range,
// already occupied, or the entity already occupies a different hex
// (invariant: each hex holds at most one entity; each entity occupies at
// most one hex).
func (b *Board) PlaceEntity(hexKey hexmath.HexKey, occ Occupant) error {
	b.mu.Lock()

	hex, ok := b.hexes[hexKey]
	if !ok {
		b.mu.Unlock()
		return &Error{Op: "PlaceEntity", Message: fmt.Sprintf("hex %s is not on the board", hexKey)}
	}
	if hex.EntityID != "" {
		b.mu.Unlock()
		return &Error{Op: "PlaceEntity", Message: fmt.Sprintf("hex %s is already occupied by %s", hexKey, hex.EntityID)}
	}
	if _, already := b.hexByEntity[occ.EntityID()]; already {
		b.mu.Unlock()
		return &Error{Op: "PlaceEntity", Message: fmt.Sprintf("entity %s already occupies a hex", occ.EntityID())}
	}

	hex.EntityID = occ.EntityID()
	b.entities[occ.EntityID()] = occ
	b.hexByEntity[occ.EntityID()] = hexKey

	b.recomputeCostLocked()
	evt := Event{Type: "entity.placed", EntityID: occ.EntityID(), HexKey: hexKey, ProjectedCost: b.projectedCost}
	b.mu.Unlock()

	b.notify(evt)
	return nil
}

// RemoveEntity removes whatever entity occupies hexKey, if any.
func (b *Board) RemoveEntity(hexKey hexmath.HexKey) error {
	b.mu.Lock()

	hex, ok := b.hexes[hexKey]
	if !ok {
		b.mu.Unlock()
		return &Error{Op: "RemoveEntity", Message: fmt.Sprintf("hex %s is not on the board", hexKey)}
	}
	if hex.EntityID == "" {
		b.mu.Unlock()
		return nil
	}
	entityID := hex.EntityID
	delete(b.entities, entityID)
	delete(b.hexByEntity, entityID)
	hex.EntityID = ""

	b.recomputeCostLocked()
	evt := Event{Type: "entity.removed", EntityID: entityID, HexKey: hexKey, ProjectedCost: b.projectedCost}
	b.mu.Unlock()

	b.notify(evt)
	return nil
}

// UpdateEntity replaces the occupant at its current hex with a new value
// (e.g. after a config edit), keeping the hex assignment unchanged.
func (b *Board) UpdateEntity(occ Occupant) error {
	b.mu.Lock()

	hexKey, ok := b.hexByEntity[occ.EntityID()]
	if !ok {
		b.mu.Unlock()
		return &Error{Op: "UpdateEntity", Message: fmt.Sprintf("entity %s is not on the board", occ.EntityID())}
	}
	b.entities[occ.EntityID()] = occ

	b.recomputeCostLocked()
	evt := Event{Type: "entity.updated", EntityID: occ.EntityID(), HexKey: hexKey, ProjectedCost: b.projectedCost}
	b.mu.Unlock()

	b.notify(evt)
	return nil
}

// AddConnection records a connection edge. Connections do not affect
// routing and may form cycles; they exist for visualization only.
func (b *Board) AddConnection(fromHexKey, toHexKey hexmath.HexKey, typ ConnectionType) (Connection, error) {
	b.mu.Lock()
	if _, ok := b.hexes[fromHexKey]; !ok {
		b.mu.Unlock()
		return Connection{}, &Error{Op: "AddConnection", Message: fmt.Sprintf("hex %s is not on the board", fromHexKey)}
	}
	if _, ok := b.hexes[toHexKey]; !ok {
		b.mu.Unlock()
		return Connection{}, &Error{Op: "AddConnection", Message: fmt.Sprintf("hex %s is not on the board", toHexKey)}
	}
	conn := Connection{
		ID:         uuid.NewString(),
		FromHexKey: fromHexKey,
		ToHexKey:   toHexKey,
		Type:       typ,
	}
	b.connections[conn.ID] = conn
	evt := Event{Type: "connection.added", HexKey: fromHexKey, ProjectedCost: b.projectedCost}
	b.mu.Unlock()

	b.notify(evt)
	return conn, nil
}

// RemoveConnection deletes a connection by id.
func (b *Board) RemoveConnection(id string) error {
	b.mu.Lock()
	conn, ok := b.connections[id]
	if !ok {
		b.mu.Unlock()
		return &Error{Op: "RemoveConnection", Message: fmt.Sprintf("connection %s not found", id)}
	}
	delete(b.connections, id)
	evt := Event{Type: "connection.removed", HexKey: conn.FromHexKey, ProjectedCost: b.projectedCost}
	b.mu.Unlock()

	b.notify(evt)
	return nil
}

// EntityByHex returns the entity occupying hexKey, if any.
func (b *Board) EntityByHex(hexKey hexmath.HexKey) (Occupant, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hex, ok := b.hexes[hexKey]
	if !ok || hex.EntityID == "" {
		return nil, false
	}
	occ, ok := b.entities[hex.EntityID]
	return occ, ok
}

// HexByEntity returns the hex an entity occupies, if placed.
func (b *Board) HexByEntity(entityID string) (hexmath.HexKey, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	key, ok := b.hexByEntity[entityID]
	return key, ok
}

// Entities returns every placed entity, keyed by entity ID.
func (b *Board) Entities() map[string]Occupant {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Occupant, len(b.entities))
	for k, v := range b.entities {
		out[k] = v
	}
	return out
}

// Connections returns every connection, keyed by connection ID.
func (b *Board) Connections() map[string]Connection {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Connection, len(b.connections))
	for k, v := range b.connections {
		out[k] = v
	}
	return out
}

// ProjectedCost returns the current sum of every placed entity's Cost
// field, recomputed on every mutation.
func (b *Board) ProjectedCost() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.projectedCost
}

func (b *Board) recomputeCostLocked() {
	var total float64
	for _, occ := range b.entities {
		total += occ.EntityCost()
	}
	b.projectedCost = total
}

// Snapshot captures the board's current state for persistence.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap := Snapshot{
		BoardID:     b.id,
		Radius:      b.radius,
		Entities:    make(map[string]Occupant, len(b.entities)),
		HexByEntity: make(map[string]hexmath.HexKey, len(b.hexByEntity)),
		Connections: make(map[string]Connection, len(b.connections)),
	}
	for k, v := range b.entities {
		snap.Entities[k] = v
	}
	for k, v := range b.hexByEntity {
		snap.HexByEntity[k] = v
	}
	for k, v := range b.connections {
		snap.Connections[k] = v
	}
	return snap
}

// Load rebuilds a Board from a previously captured Snapshot.
func Load(snap Snapshot) (*Board, error) {
	b := New(snap.BoardID, snap.Radius)
	for entityID, hexKey := range snap.HexByEntity {
		occ, ok := snap.Entities[entityID]
		if !ok {
			return nil, &Error{Op: "Load", Message: fmt.Sprintf("snapshot references missing entity %s", entityID)}
		}
		if err := b.PlaceEntity(hexKey, occ); err != nil {
			return nil, err
		}
	}
	for _, conn := range snap.Connections {
		b.connections[conn.ID] = conn
	}
	return b, nil
}
