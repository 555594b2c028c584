package server

import (
	"sync"

	"github.com/parleychat/parley/pkg/protocol"
)

// Channel is a named broadcast group of sessions. Membership is a set keyed
// by username; a username is in at most one channel at a time.
type Channel struct {
	name string

	mu      sync.RWMutex
	members map[string]*Session
}

func newChannel(name string) *Channel {
	return &Channel{
		name:    name,
		members: make(map[string]*Session),
	}
}

func (c *Channel) Name() string {
	return c.name
}

func (c *Channel) addMember(sess *Session) {
	c.mu.Lock()
	c.members[sess.Username()] = sess
	c.mu.Unlock()
}

func (c *Channel) removeMember(username string) {
	c.mu.Lock()
	delete(c.members, username)
	c.mu.Unlock()
}

// Members returns a snapshot of the current member sessions.
func (c *Channel) Members() []*Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	members := make([]*Session, 0, len(c.members))
	for _, sess := range c.members {
		members = append(members, sess)
	}
	return members
}

// broadcast hands every member except excludeUsername its own clone of m,
// so per-recipient mutation never leaks across recipients. Delivery order
// per recipient is the order broadcast was invoked for that recipient.
func (c *Channel) broadcast(excludeUsername string, m protocol.Message) {
	for _, sess := range c.Members() {
		if sess.Username() == excludeUsername {
			continue
		}
		sess.Deliver(m.Clone())
	}
}

// ChannelDirectory owns every channel and is shared by all sessions.
// Channels are created on first join and never garbage-collected; an empty
// channel persisting is harmless.
type ChannelDirectory struct {
	mu       sync.RWMutex
	channels map[string]*Channel

	metrics *Metrics
}

func NewChannelDirectory(metrics *Metrics) *ChannelDirectory {
	return &ChannelDirectory{
		channels: make(map[string]*Channel),
		metrics:  metrics,
	}
}

// Get returns the named channel, or nil if nobody ever joined it.
func (d *ChannelDirectory) Get(name string) *Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.channels[name]
}

// AddUser places sess into the named channel, creating it on first use.
func (d *ChannelDirectory) AddUser(sess *Session, name string) *Channel {
	d.mu.Lock()
	ch, ok := d.channels[name]
	if !ok {
		ch = newChannel(name)
		d.channels[name] = ch
		d.metrics.RecordChannelCount(len(d.channels))
	}
	d.mu.Unlock()

	ch.addMember(sess)
	return ch
}

// RemoveUser drops the username from the named channel if it exists.
func (d *ChannelDirectory) RemoveUser(username, name string) {
	if ch := d.Get(name); ch != nil {
		ch.removeMember(username)
	}
}

// AllUsers snapshots every session currently in any channel, used for the
// duplicate-username check at authentication time.
func (d *ChannelDirectory) AllUsers() []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var users []*Session
	for _, ch := range d.channels {
		users = append(users, ch.Members()...)
	}
	return users
}

// Broadcast sends an independent copy of m to every member of the named
// channel except excludeUsername. Unknown channels are a no-op.
func (d *ChannelDirectory) Broadcast(channelID, excludeUsername string, m protocol.Message) {
	if ch := d.Get(channelID); ch != nil {
		ch.broadcast(excludeUsername, m)
	}
}
