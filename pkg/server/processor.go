package server

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleychat/parley/pkg/protocol"
)

// defaultChannelName is where every freshly authenticated user lands.
const defaultChannelName = "general"

// byeTimeout bounds the best-effort farewell sent during teardown,
// including its retransmission budget on the datagram transport.
const byeTimeout = 3 * time.Second

// Processor is the per-session orchestrator. It holds the business rules
// for every request type and drives the session's state machine; the
// transport mechanics live behind the Endpoint.
type Processor struct {
	auth     Authenticator
	channels *ChannelDirectory
	endpoint Endpoint
	sess     *Session
	workflow *Workflow
	log      zerolog.Logger
}

func NewProcessor(auth Authenticator, channels *ChannelDirectory, endpoint Endpoint, sess *Session, workflow *Workflow, log zerolog.Logger) *Processor {
	return &Processor{
		auth:     auth,
		channels: channels,
		endpoint: endpoint,
		sess:     sess,
		workflow: workflow,
		log:      log,
	}
}

// Process handles one inbound message. Confirmations and duplicates were
// already absorbed by the transport; everything else is checked against
// the state machine before its handler runs.
func (p *Processor) Process(ctx context.Context, in *Inbound) error {
	if in.Result == ResultDuplicate {
		return nil
	}
	if in.Result == ResultParseError {
		return p.protocolError(ctx, "could not parse the sent message")
	}

	t := in.Msg.Type()
	if t == protocol.TypeConfirm {
		return nil
	}
	if !p.workflow.Allowed(t) {
		return p.protocolError(ctx, fmt.Sprintf("%s message is not allowed in the %s state", t, p.workflow.State()))
	}

	switch m := in.Msg.(type) {
	case *protocol.AuthMessage:
		return p.processAuth(ctx, m)
	case *protocol.JoinMessage:
		return p.processJoin(ctx, m)
	case *protocol.MsgMessage:
		return p.processMsg(ctx, m)
	case *protocol.ErrMessage:
		return p.processErr(m)
	case *protocol.ByeMessage:
		p.processBye()
		return nil
	default:
		return p.protocolError(ctx, "could not parse the sent message")
	}
}

func (p *Processor) processAuth(ctx context.Context, m *protocol.AuthMessage) error {
	if err := protocol.Validate(m); err != nil {
		replyErr := p.endpoint.SendReply(ctx, false, "sent authentication request is not valid", m)
		p.workflow.Advance(protocol.TypeAuth, followReply, outcomeNOK)
		return replyErr
	}
	if p.usernameTaken(m.Username) {
		replyErr := p.endpoint.SendReply(ctx, false, "user with this username is already connected", m)
		p.workflow.Advance(protocol.TypeAuth, followReply, outcomeNOK)
		return replyErr
	}

	ok := p.auth.Authenticate(m.Username, m.Secret)
	content := "authentication failed"
	if ok {
		content = "authentication successful"
	}
	replyErr := p.endpoint.SendReply(ctx, ok, content, m)

	if ok {
		p.sess.SetIdentity(m.Username, m.DisplayName)
		p.channelJoin(m.Username, m.DisplayName, defaultChannelName)
		p.log.Info().
			Str("user", m.Username).
			Str("peer", p.endpoint.RemoteAddr().String()).
			Msg("user authenticated")
	}
	p.workflow.Advance(protocol.TypeAuth, followReply, outcomeOf(ok))
	return replyErr
}

func (p *Processor) processJoin(ctx context.Context, m *protocol.JoinMessage) error {
	if err := protocol.Validate(m); err != nil {
		replyErr := p.endpoint.SendReply(ctx, false, "sent join request is not valid", m)
		p.workflow.Advance(protocol.TypeJoin, followReply, outcomeNOK)
		return replyErr
	}

	p.sess.SetDisplayName(m.DisplayName)

	// Re-joining the current channel succeeds without churning the
	// membership or repeating the arrival notice.
	current := p.sess.ChannelRef()
	sameChannel := current != nil && current.Name() == m.ChannelID
	if !sameChannel {
		p.channelExit()
	}

	replyErr := p.endpoint.SendReply(ctx, true, "channel joined successfully", m)
	if !sameChannel {
		p.channelJoin(p.sess.Username(), m.DisplayName, m.ChannelID)
	}
	p.workflow.Advance(protocol.TypeJoin, followReply, outcomeOK)
	return replyErr
}

func (p *Processor) processMsg(ctx context.Context, m *protocol.MsgMessage) error {
	if err := protocol.Validate(m); err != nil {
		return p.protocolError(ctx, "sent message is not valid")
	}
	if ch := p.sess.ChannelRef(); ch != nil {
		p.channels.Broadcast(ch.Name(), p.sess.Username(), m)
	}
	p.workflow.Advance(protocol.TypeMsg, followNone, outcomeNone)
	return nil
}

// processErr handles a client-reported error: log it, leave the channel
// and answer with a farewell.
func (p *Processor) processErr(m *protocol.ErrMessage) error {
	p.log.Warn().
		Str("peer", p.endpoint.RemoteAddr().String()).
		Str("from", m.DisplayName).
		Str("content", m.Content).
		Msg("client reported error")
	p.channelExit()
	p.bestEffortBye()
	p.workflow.Advance(protocol.TypeErr, followBye, outcomeNone)
	p.forceEnd()
	return nil
}

func (p *Processor) processBye() {
	p.channelExit()
	p.workflow.Advance(protocol.TypeBye, followNone, outcomeNone)
}

// Shutdown releases the session's shared resources on teardown. If the
// conversation had not reached End, one best-effort farewell goes out.
func (p *Processor) Shutdown() {
	if p.workflow.Ended() {
		return
	}
	p.channelExit()
	p.bestEffortBye()
	p.forceEnd()
}

// protocolError answers a malformed or misplaced message with an error
// notification and terminates the conversation.
func (p *Processor) protocolError(ctx context.Context, text string) error {
	sendErr := p.endpoint.SendError(ctx, text)
	p.channelExit()
	p.bestEffortBye()
	p.workflow.Advance(protocol.TypeErr, followBye, outcomeNone)
	p.forceEnd()
	return sendErr
}

// forceEnd drives the state machine out of Error so no session can strand
// there after a terminating exchange.
func (p *Processor) forceEnd() {
	if !p.workflow.Ended() {
		p.workflow.Advance(protocol.TypeBye, followNone, outcomeNone)
	}
}

func (p *Processor) bestEffortBye() {
	ctx, cancel := context.WithTimeout(context.Background(), byeTimeout)
	defer cancel()
	if err := p.endpoint.Leave(ctx); err != nil {
		p.log.Debug().Err(err).Msg("farewell not delivered")
	}
}

func (p *Processor) usernameTaken(username string) bool {
	for _, other := range p.channels.AllUsers() {
		if other != p.sess && other.Username() == username {
			return true
		}
	}
	return false
}

// channelJoin adds the user to a channel, creating it on first join, and
// tells the other members somebody arrived.
func (p *Processor) channelJoin(username, displayName, channelName string) {
	ch := p.channels.AddUser(p.sess, channelName)
	p.sess.SetChannel(ch)
	p.channels.Broadcast(channelName, username, &protocol.MsgMessage{
		DisplayName: serverName,
		Content:     fmt.Sprintf("%s has joined %s", displayName, channelName),
	})
	p.log.Debug().Str("user", username).Str("channel", channelName).Msg("joined channel")
}

// channelExit removes the user from their current channel, if any, and
// tells the remaining members they left.
func (p *Processor) channelExit() {
	ch := p.sess.ChannelRef()
	if ch == nil {
		return
	}
	username := p.sess.Username()
	p.channels.Broadcast(ch.Name(), username, &protocol.MsgMessage{
		DisplayName: serverName,
		Content:     fmt.Sprintf("%s has left %s", p.sess.DisplayName(), ch.Name()),
	})
	p.channels.RemoveUser(username, ch.Name())
	p.sess.SetChannel(nil)
	p.log.Debug().Str("user", username).Str("channel", ch.Name()).Msg("left channel")
}
