package server

import (
	"context"
	"errors"
	"net"

	"github.com/parleychat/parley/pkg/protocol"
)

// serverName is the display name used for server-originated messages.
const serverName = "Server"

// ErrNotConfirmed is returned by a datagram send whose confirmation never
// arrived within the retry budget. The session maps it to a best-effort
// leave sequence.
var ErrNotConfirmed = errors.New("message was not confirmed by peer")

// ProcessResult classifies how a received payload should be treated.
type ProcessResult uint8

const (
	// ResultOK means the message parsed and is seen for the first time.
	ResultOK ProcessResult = iota
	// ResultParseError means the payload could not be decoded.
	ResultParseError
	// ResultDuplicate means a datagram ID was received again; it has been
	// confirmed to the peer but must not be processed a second time.
	ResultDuplicate
)

// Inbound is one received message together with its receive classification.
type Inbound struct {
	Msg    protocol.Message
	Result ProcessResult
}

// Endpoint is the server's side of one client conversation, over either
// transport. Implementations own framing, reliability, and wire logging;
// callers only deal in messages.
//
// Listen and the Send methods may be called from different goroutines, but
// Listen itself must only ever have one caller.
type Endpoint interface {
	// Send transmits a message. On the datagram transport this blocks
	// until the peer confirms or the retry budget is exhausted, in which
	// case it returns ErrNotConfirmed.
	Send(ctx context.Context, m protocol.Message) error
	// SendReply transmits a success/failure Reply answering inReplyTo.
	SendReply(ctx context.Context, ok bool, content string, inReplyTo protocol.Message) error
	// SendError transmits a server-originated Err message.
	SendError(ctx context.Context, content string) error
	// Leave transmits a Bye.
	Leave(ctx context.Context) error
	// Listen blocks until the next message arrives or the transport fails.
	Listen(ctx context.Context) (*Inbound, error)
	// CancelRead unblocks a Listen in progress without closing the
	// transport, so a datagram endpoint can still drain stragglers.
	CancelRead()
	RemoteAddr() net.Addr
	Close() error
}
