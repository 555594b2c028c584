package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/pkg/protocol"
)

func addMemberSession(t *testing.T, dir *ChannelDirectory, username, channel string) *Session {
	t.Helper()
	sess, _ := newTestSession(dir)
	sess.SetIdentity(username, username)
	dir.AddUser(sess, channel)
	sess.SetChannel(dir.Get(channel))
	return sess
}

func TestChannelDirectoryCreatesOnFirstJoin(t *testing.T) {
	dir := NewChannelDirectory(nil)
	assert.Nil(t, dir.Get("general"))

	sess := addMemberSession(t, dir, "alice", "general")
	ch := dir.Get("general")
	require.NotNil(t, ch)
	assert.Equal(t, "general", ch.Name())
	assert.Equal(t, []*Session{sess}, ch.Members())
}

func TestChannelDirectoryRemoveUser(t *testing.T) {
	dir := NewChannelDirectory(nil)
	addMemberSession(t, dir, "alice", "general")
	addMemberSession(t, dir, "bob", "general")

	dir.RemoveUser("alice", "general")
	members := dir.Get("general").Members()
	require.Len(t, members, 1)
	assert.Equal(t, "bob", members[0].Username())

	// Removing from a channel that never existed is a no-op.
	dir.RemoveUser("alice", "nowhere")
}

func TestChannelBroadcastExcludesSender(t *testing.T) {
	dir := NewChannelDirectory(nil)
	alice := addMemberSession(t, dir, "alice", "general")
	bob := addMemberSession(t, dir, "bob", "general")
	carol := addMemberSession(t, dir, "carol", "general")

	dir.Broadcast("general", "alice", &protocol.MsgMessage{DisplayName: "alice", Content: "hi"})

	assert.Empty(t, drainOutbound(alice))
	require.Len(t, drainOutbound(bob), 1)
	require.Len(t, drainOutbound(carol), 1)
}

func TestChannelBroadcastClonesPerRecipient(t *testing.T) {
	dir := NewChannelDirectory(nil)
	addMemberSession(t, dir, "alice", "general")
	bob := addMemberSession(t, dir, "bob", "general")
	carol := addMemberSession(t, dir, "carol", "general")

	original := &protocol.MsgMessage{DisplayName: "alice", Content: "hi"}
	dir.Broadcast("general", "alice", original)

	toBob := drainOutbound(bob)[0].(*protocol.MsgMessage)
	toCarol := drainOutbound(carol)[0].(*protocol.MsgMessage)
	require.NotSame(t, toBob, toCarol)
	require.NotSame(t, original, toBob)

	// Mutating one recipient's copy leaks nowhere.
	toBob.ID = 99
	assert.Zero(t, toCarol.ID)
	assert.Zero(t, original.ID)
}

func TestChannelBroadcastUnknownChannel(t *testing.T) {
	dir := NewChannelDirectory(nil)
	dir.Broadcast("ghost", "alice", &protocol.MsgMessage{DisplayName: "alice", Content: "hi"})
}

func TestChannelDirectoryAllUsers(t *testing.T) {
	dir := NewChannelDirectory(nil)
	assert.Empty(t, dir.AllUsers())

	addMemberSession(t, dir, "alice", "general")
	addMemberSession(t, dir, "bob", "random")

	users := dir.AllUsers()
	require.Len(t, users, 2)
	names := []string{users[0].Username(), users[1].Username()}
	assert.ElementsMatch(t, []string{"alice", "bob"}, names)
}
