package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parleychat/parley/pkg/protocol"
)

func TestWorkflowAuthenticationPath(t *testing.T) {
	w := NewWorkflow()
	assert.Equal(t, StateStart, w.State())
	assert.False(t, w.Authenticated())

	w.Advance(protocol.TypeAuth, followReply, outcomeNOK)
	assert.Equal(t, StateAuthentication, w.State())

	w.Advance(protocol.TypeAuth, followReply, outcomeNOK)
	assert.Equal(t, StateAuthentication, w.State())

	w.Advance(protocol.TypeAuth, followReply, outcomeOK)
	assert.Equal(t, StateOpen, w.State())
	assert.True(t, w.Authenticated())
}

func TestWorkflowOpenConversation(t *testing.T) {
	w := NewWorkflow()
	w.Advance(protocol.TypeAuth, followReply, outcomeOK)

	w.Advance(protocol.TypeMsg, followNone, outcomeNone)
	assert.Equal(t, StateOpen, w.State())

	// Join stays in Open regardless of the reply outcome.
	w.Advance(protocol.TypeJoin, followReply, outcomeOK)
	assert.Equal(t, StateOpen, w.State())
	w.Advance(protocol.TypeJoin, followReply, outcomeNOK)
	assert.Equal(t, StateOpen, w.State())

	w.Advance(protocol.TypeBye, followNone, outcomeNone)
	assert.Equal(t, StateEnd, w.State())
	assert.True(t, w.Ended())
}

func TestWorkflowByeEndsEveryPhase(t *testing.T) {
	for _, setup := range []func(w *Workflow){
		func(w *Workflow) {},
		func(w *Workflow) { w.Advance(protocol.TypeAuth, followReply, outcomeNOK) },
		func(w *Workflow) { w.Advance(protocol.TypeAuth, followReply, outcomeOK) },
	} {
		w := NewWorkflow()
		setup(w)
		w.Advance(protocol.TypeBye, followNone, outcomeNone)
		assert.True(t, w.Ended())
	}
}

func TestWorkflowClientErrorTerminates(t *testing.T) {
	w := NewWorkflow()
	w.Advance(protocol.TypeAuth, followReply, outcomeOK)

	w.Advance(protocol.TypeErr, followBye, outcomeNone)
	assert.Equal(t, StateEnd, w.State())
}

func TestWorkflowUnmatchedTransitionIsError(t *testing.T) {
	w := NewWorkflow()

	// No entry covers Msg in Start.
	w.Advance(protocol.TypeMsg, followNone, outcomeNone)
	assert.Equal(t, StateError, w.State())
	assert.False(t, w.Ended())

	// Error only leaves through Bye.
	w.Advance(protocol.TypeBye, followNone, outcomeNone)
	assert.True(t, w.Ended())
}

func TestWorkflowEndIsTerminal(t *testing.T) {
	w := NewWorkflow()
	w.Advance(protocol.TypeBye, followNone, outcomeNone)
	assert.True(t, w.Ended())

	w.Advance(protocol.TypeAuth, followReply, outcomeOK)
	assert.Equal(t, StateEnd, w.State())
}

func TestWorkflowConfirmNeverMoves(t *testing.T) {
	w := NewWorkflow()
	w.Advance(protocol.TypeConfirm, followNone, outcomeNone)
	assert.Equal(t, StateStart, w.State())
}

func TestWorkflowAllowed(t *testing.T) {
	w := NewWorkflow()
	assert.True(t, w.Allowed(protocol.TypeAuth))
	assert.True(t, w.Allowed(protocol.TypeBye))
	assert.False(t, w.Allowed(protocol.TypeMsg))
	assert.False(t, w.Allowed(protocol.TypeJoin))

	w.Advance(protocol.TypeAuth, followReply, outcomeOK)
	assert.True(t, w.Allowed(protocol.TypeMsg))
	assert.True(t, w.Allowed(protocol.TypeJoin))
	assert.True(t, w.Allowed(protocol.TypeErr))
	assert.False(t, w.Allowed(protocol.TypeAuth))

	w.Advance(protocol.TypeBye, followNone, outcomeNone)
	assert.False(t, w.Allowed(protocol.TypeBye))
}
