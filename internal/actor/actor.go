// Package actor implements the Actor Runtime (spec §4.8): the per-hex
// state machine shared by ToolActor and AgentActor, with transition
// validation and a non-reentrancy guard.
package actor

import (
	"fmt"
	"sync"
	"time"
)

// Status is one state of the actor state machine (spec §4.8 diagram).
type Status string

const (
	StatusIdle   Status = "idle"
	StatusActive Status = "active"
	StatusBusy   Status = "busy"
	StatusError  Status = "error"
)

// transitions enumerates the legal edges of the spec §4.8 diagram:
//
//	idle --start--> active --work--> busy --done/fail--> active
//	active/busy --stop--> idle
//	active/busy --error--> error; error --stop--> idle
var transitions = map[Status]map[Status]bool{
	StatusIdle:   {StatusActive: true},
	StatusActive: {StatusBusy: true, StatusIdle: true, StatusError: true},
	StatusBusy:   {StatusActive: true, StatusIdle: true, StatusError: true},
	StatusError:  {StatusIdle: true},
}

// Error reports an illegal transition attempt or a reentrancy violation.
type Error struct {
	EntityID string
	From, To Status
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("actor %s: %s -> %s: %s", e.EntityID, e.From, e.To, e.Message)
}

// StatusEvent is published as "hex.status" on every successful transition
// (spec §4.8 "Transitions emit hex.status").
type StatusEvent struct {
	EntityID  string
	HexKey    string
	From      Status
	To        Status
	Reason    string
	Timestamp time.Time
}

// Actor is the common state-machine core embedded by ToolActor and
// AgentActor. It is not itself a ToolActor/AgentActor — those types embed
// it and add their category-specific behavior (plugin dispatch, the
// claim-to-complete loop).
type Actor struct {
	mu       sync.Mutex
	entityID string
	hexKey   string
	status   Status
	emit     func(StatusEvent)
}

// New creates an Actor in the idle state. emit may be nil (no-op).
func New(entityID, hexKey string, emit func(StatusEvent)) *Actor {
	if emit == nil {
		emit = func(StatusEvent) {}
	}
	return &Actor{entityID: entityID, hexKey: hexKey, status: StatusIdle, emit: emit}
}

// Status returns the actor's current state.
func (a *Actor) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Transition moves the actor to to, validating the edge against the state
// machine and emitting a StatusEvent on success.
func (a *Actor) Transition(to Status, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	from := a.status
	if !transitions[from][to] {
		return &Error{EntityID: a.entityID, From: from, To: to, Message: "illegal transition"}
	}
	a.status = to
	a.emit(StatusEvent{
		EntityID:  a.entityID,
		HexKey:    a.hexKey,
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	return nil
}

// Enter is a convenience for the common start-of-work sequence: it
// transitions active -> busy, failing with a reentrancy Error if the actor
// is already busy (spec §4.8 "busy actors do not accept new work; the
// runtime must not invoke an actor re-entrantly").
func (a *Actor) Enter(reason string) error {
	a.mu.Lock()
	if a.status == StatusBusy {
		a.mu.Unlock()
		return &Error{EntityID: a.entityID, From: StatusBusy, To: StatusBusy, Message: "actor is already busy; refusing reentrant invocation"}
	}
	a.mu.Unlock()
	return a.Transition(StatusBusy, reason)
}

// EntityID returns the id of the entity this actor represents.
func (a *Actor) EntityID() string { return a.entityID }

// HexKey returns the hex this actor occupies.
func (a *Actor) HexKey() string { return a.hexKey }
