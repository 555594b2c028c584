package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/parleychat/parley/pkg/protocol"
)

// tcpReadBufferSize bounds one read from the stream; frames crossing the
// boundary are reassembled by the line queue.
const tcpReadBufferSize = 2048

// TCPEndpoint speaks the CRLF text protocol over one accepted stream
// connection. Writes are serialized so broadcast deliveries from other
// sessions cannot interleave with replies mid-frame.
type TCPEndpoint struct {
	conn    net.Conn
	queue   *protocol.LineQueue
	writeMu sync.Mutex
	readBuf []byte
	wlog    *WireLogger
	metrics *Metrics
}

func NewTCPEndpoint(conn net.Conn, wlog *WireLogger, metrics *Metrics) *TCPEndpoint {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
	return &TCPEndpoint{
		conn:    conn,
		queue:   protocol.NewLineQueue(),
		readBuf: make([]byte, tcpReadBufferSize),
		wlog:    wlog,
		metrics: metrics,
	}
}

func (e *TCPEndpoint) Send(ctx context.Context, m protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := protocol.EncodeText(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Type(), err)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.wlog.Sent(m, e.conn.RemoteAddr())
	e.metrics.RecordMessageSent(m.Type())
	if _, err := e.conn.Write(payload); err != nil {
		return fmt.Errorf("stream write: %w", err)
	}
	return nil
}

func (e *TCPEndpoint) SendReply(ctx context.Context, ok bool, content string, _ protocol.Message) error {
	return e.Send(ctx, &protocol.ReplyMessage{Success: ok, Content: content})
}

func (e *TCPEndpoint) SendError(ctx context.Context, content string) error {
	return e.Send(ctx, &protocol.ErrMessage{DisplayName: serverName, Content: content})
}

func (e *TCPEndpoint) Leave(ctx context.Context) error {
	return e.Send(ctx, &protocol.ByeMessage{})
}

// Listen returns the next complete message. It drains buffered lines before
// touching the socket, so several lines coalesced into one segment are all
// delivered in arrival order.
func (e *TCPEndpoint) Listen(ctx context.Context) (*Inbound, error) {
	for {
		if m := e.queue.Dequeue(); m != nil {
			e.wlog.Received(m, e.conn.RemoteAddr())
			e.metrics.RecordMessageReceived(m.Type())
			result := ResultOK
			if m.Type() == protocol.TypeUnknown {
				result = ResultParseError
			}
			return &Inbound{Msg: m, Result: result}, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := e.conn.Read(e.readBuf)
		if err != nil {
			return nil, fmt.Errorf("stream read: %w", err)
		}
		e.queue.Enqueue(e.readBuf[:n])
	}
}

// CancelRead unblocks a pending Read by expiring its deadline.
func (e *TCPEndpoint) CancelRead() {
	e.conn.SetReadDeadline(time.Unix(1, 0))
}

func (e *TCPEndpoint) RemoteAddr() net.Addr {
	return e.conn.RemoteAddr()
}

func (e *TCPEndpoint) Close() error {
	return e.conn.Close()
}

var _ Endpoint = (*TCPEndpoint)(nil)
