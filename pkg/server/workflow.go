package server

import (
	"sync"

	"github.com/parleychat/parley/pkg/protocol"
)

// SessionState is the phase of one client conversation.
type SessionState uint8

const (
	StateStart SessionState = iota
	StateAuthentication
	StateOpen
	StateError
	StateEnd
)

func (s SessionState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAuthentication:
		return "authentication"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	default:
		return "end"
	}
}

// followUp is the reply type the server produced while handling a message,
// part of the transition key.
type followUp uint8

const (
	followNone followUp = iota
	followReply
	followBye
)

// replyOutcome is the success flag of that reply; outcomeNone doubles as
// the wildcard in the fallback lookup.
type replyOutcome uint8

const (
	outcomeNone replyOutcome = iota
	outcomeOK
	outcomeNOK
)

func outcomeOf(ok bool) replyOutcome {
	if ok {
		return outcomeOK
	}
	return outcomeNOK
}

type transitionKey struct {
	state   SessionState
	inbound protocol.Type
	follow  followUp
	outcome replyOutcome
}

// transitions is the exact-match tier. Entries keyed with outcomeNone act
// as wildcards through the fallback lookup in Advance.
var transitions = map[transitionKey]SessionState{
	{StateStart, protocol.TypeAuth, followReply, outcomeOK}:           StateOpen,
	{StateStart, protocol.TypeAuth, followReply, outcomeNOK}:          StateAuthentication,
	{StateStart, protocol.TypeBye, followNone, outcomeNone}:           StateEnd,
	{StateAuthentication, protocol.TypeBye, followNone, outcomeNone}:  StateEnd,
	{StateAuthentication, protocol.TypeAuth, followReply, outcomeOK}:  StateOpen,
	{StateAuthentication, protocol.TypeAuth, followReply, outcomeNOK}: StateAuthentication,
	{StateOpen, protocol.TypeMsg, followNone, outcomeNone}:            StateOpen,
	{StateOpen, protocol.TypeJoin, followReply, outcomeNone}:          StateOpen,
	{StateOpen, protocol.TypeBye, followNone, outcomeNone}:            StateEnd,
	{StateOpen, protocol.TypeErr, followBye, outcomeNone}:             StateEnd,
	{StateError, protocol.TypeBye, followNone, outcomeNone}:           StateEnd,
}

// allowedTypes gates inbound messages before any transition is attempted.
// A nil entry permits nothing (End is terminal).
var allowedTypes = map[SessionState][]protocol.Type{
	StateStart:          {protocol.TypeBye, protocol.TypeAuth},
	StateAuthentication: {protocol.TypeBye, protocol.TypeAuth},
	StateOpen:           {protocol.TypeMsg, protocol.TypeJoin, protocol.TypeBye, protocol.TypeErr},
	StateError:          {protocol.TypeBye},
	StateEnd:            nil,
}

// Workflow is the per-session state machine. All reads and transitions are
// serialized by one mutex; the processing loop is the only mutator.
type Workflow struct {
	mu    sync.Mutex
	state SessionState
}

func NewWorkflow() *Workflow {
	return &Workflow{state: StateStart}
}

// Advance derives the next state from the incoming type, the reply the
// server produced, and the reply outcome. Lookup is two-tier: exact tuple
// first, then wildcard on the outcome, then Error. Confirm input and input
// in the End state are no-ops.
func (w *Workflow) Advance(inbound protocol.Type, follow followUp, outcome replyOutcome) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateEnd || inbound == protocol.TypeConfirm {
		return
	}

	if next, ok := transitions[transitionKey{w.state, inbound, follow, outcome}]; ok {
		w.state = next
		return
	}
	if next, ok := transitions[transitionKey{w.state, inbound, follow, outcomeNone}]; ok {
		w.state = next
		return
	}
	w.state = StateError
}

// Allowed reports whether a message of type t is legal in the current
// state. The orchestrator rejects disallowed types without touching the
// transition table.
func (w *Workflow) Allowed(t protocol.Type) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, allowed := range allowedTypes[w.state] {
		if allowed == t {
			return true
		}
	}
	return false
}

func (w *Workflow) State() SessionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Workflow) Ended() bool {
	return w.State() == StateEnd
}

func (w *Workflow) Authenticated() bool {
	s := w.State()
	return s == StateOpen || s == StateError
}
