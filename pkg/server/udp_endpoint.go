package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/parleychat/parley/pkg/protocol"
)

// udpReadBufferSize fits the largest legal datagram with headroom.
const udpReadBufferSize = 2048

// UDPEndpoint speaks the binary datagram protocol with one peer and owns
// the reliability layer on top of it: outgoing message IDs, confirmation
// tracking, bounded retransmission, and inbound duplicate suppression.
//
// The peer address is latched from the first datagram received; after the
// server hands the first request off, Rebind moves the endpoint to an
// ephemeral local port so the session no longer contends with the main
// accept port.
type UDPEndpoint struct {
	connMu sync.RWMutex
	conn   net.PacketConn

	listenHost string
	timeout    time.Duration
	retries    int

	peerMu sync.RWMutex
	peer   net.Addr

	mu        sync.Mutex
	nextID    uint16
	seen      map[uint16]struct{}
	confirmed map[uint16]struct{}
	waiters   map[uint16]chan struct{}

	wlog    *WireLogger
	metrics *Metrics
}

// NewUDPEndpoint wraps an already-bound packet socket. peer may be nil for
// a server-side endpoint that has not heard from anyone yet.
func NewUDPEndpoint(conn net.PacketConn, peer net.Addr, listenHost string, timeout time.Duration, retries int, wlog *WireLogger, metrics *Metrics) *UDPEndpoint {
	return &UDPEndpoint{
		conn:       conn,
		listenHost: listenHost,
		timeout:    timeout,
		retries:    retries,
		peer:       peer,
		seen:       make(map[uint16]struct{}),
		confirmed:  make(map[uint16]struct{}),
		waiters:    make(map[uint16]chan struct{}),
		wlog:       wlog,
		metrics:    metrics,
	}
}

// Send assigns the next message ID, transmits, and retransmits the same
// bytes until the peer confirms or retries+1 attempts have gone out.
func (e *UDPEndpoint) Send(ctx context.Context, m protocol.Message) error {
	seq, ok := m.(protocol.Sequenced)
	if !ok {
		return fmt.Errorf("datagram send needs a sequenced message, got %s", m.Type())
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	seq.SetMessageID(id)
	confirmCh := make(chan struct{})
	e.waiters[id] = confirmCh
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.waiters, id)
		e.mu.Unlock()
	}()

	payload, err := protocol.EncodeBinary(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Type(), err)
	}

	for attempt := 0; attempt <= e.retries; attempt++ {
		if e.isConfirmed(id) {
			return nil
		}
		if attempt > 0 {
			e.metrics.RecordRetransmission()
		}
		e.wlog.Sent(m, e.peerAddr())
		e.metrics.RecordMessageSent(m.Type())
		if err := e.writeToPeer(payload); err != nil {
			return fmt.Errorf("datagram write: %w", err)
		}

		timer := time.NewTimer(e.timeout)
		select {
		case <-confirmCh:
			timer.Stop()
			return nil
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	if e.isConfirmed(id) {
		return nil
	}
	e.metrics.RecordUnconfirmedSend()
	return fmt.Errorf("message %d: %w", id, ErrNotConfirmed)
}

func (e *UDPEndpoint) SendReply(ctx context.Context, ok bool, content string, inReplyTo protocol.Message) error {
	reply := &protocol.ReplyMessage{Success: ok, Content: content}
	if seq, isSeq := inReplyTo.(protocol.Sequenced); isSeq {
		reply.RefID = seq.MessageID()
	}
	return e.Send(ctx, reply)
}

func (e *UDPEndpoint) SendError(ctx context.Context, content string) error {
	return e.Send(ctx, &protocol.ErrMessage{DisplayName: serverName, Content: content})
}

func (e *UDPEndpoint) Leave(ctx context.Context) error {
	return e.Send(ctx, &protocol.ByeMessage{})
}

// Listen blocks for the next datagram. Every non-Confirm message is
// acknowledged immediately, even when its ID was already seen; a repeat ID
// comes back flagged ResultDuplicate so it is never processed twice.
// Confirm messages wake the sender blocked on the referenced ID.
func (e *UDPEndpoint) Listen(ctx context.Context) (*Inbound, error) {
	buf := make([]byte, udpReadBufferSize)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, addr, err := e.readConn().ReadFrom(buf)
	if err != nil {
		return nil, fmt.Errorf("datagram read: %w", err)
	}

	return e.handleDatagram(buf[:n], addr), nil
}

// Admit feeds the endpoint a datagram that was read elsewhere, typically
// the connection-opening request the accept loop pulled off the shared
// socket. The confirmation goes out through this endpoint, so the peer
// learns the session's port from it.
func (e *UDPEndpoint) Admit(data []byte, from net.Addr) *Inbound {
	return e.handleDatagram(data, from)
}

func (e *UDPEndpoint) handleDatagram(data []byte, addr net.Addr) *Inbound {
	m := protocol.DecodeBinary(data)
	if m.Type() == protocol.TypeUnknown {
		e.metrics.RecordMessageReceived(m.Type())
		return &Inbound{Msg: m, Result: ResultParseError}
	}

	e.latchPeer(addr)
	e.wlog.Received(m, addr)
	e.metrics.RecordMessageReceived(m.Type())

	if confirm, isConfirm := m.(*protocol.ConfirmMessage); isConfirm {
		e.mu.Lock()
		if _, done := e.confirmed[confirm.RefID]; !done {
			e.confirmed[confirm.RefID] = struct{}{}
			if ch, waiting := e.waiters[confirm.RefID]; waiting {
				close(ch)
				delete(e.waiters, confirm.RefID)
			}
		}
		e.mu.Unlock()
		return &Inbound{Msg: m, Result: ResultOK}
	}

	id := m.(protocol.Sequenced).MessageID()
	e.sendConfirm(id)

	e.mu.Lock()
	_, duplicate := e.seen[id]
	if !duplicate {
		e.seen[id] = struct{}{}
	}
	e.mu.Unlock()

	if duplicate {
		return &Inbound{Msg: m, Result: ResultDuplicate}
	}
	return &Inbound{Msg: m, Result: ResultOK}
}

// Rebind moves the endpoint off the server's main accept port onto an
// ephemeral one. Must be called before the session loops start; the peer
// keeps addressing datagrams by the source port of our replies. The
// previous socket is left open, it belongs to the accept loop.
func (e *UDPEndpoint) Rebind() error {
	conn, err := net.ListenPacket("udp", net.JoinHostPort(e.listenHost, "0"))
	if err != nil {
		return fmt.Errorf("rebind to ephemeral port: %w", err)
	}

	e.connMu.Lock()
	e.conn = conn
	e.connMu.Unlock()
	return nil
}

// Drain keeps answering retransmitted peer requests with confirmations
// after the session loops have stopped, so a peer that missed our last
// confirmation does not retry into the void. Inbound confirmations still
// wake blocked senders, which lets the closing farewell complete while
// draining. Returns when grace elapses.
func (e *UDPEndpoint) Drain(grace time.Duration) {
	deadline := time.Now().Add(grace)
	conn := e.readConn()
	buf := make([]byte, udpReadBufferSize)

	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		e.handleDatagram(buf[:n], addr)
	}
}

// CancelRead unblocks a pending ReadFrom by expiring its deadline.
func (e *UDPEndpoint) CancelRead() {
	e.readConn().SetReadDeadline(time.Unix(1, 0))
}

func (e *UDPEndpoint) RemoteAddr() net.Addr {
	return e.peerAddr()
}

func (e *UDPEndpoint) Close() error {
	return e.readConn().Close()
}

func (e *UDPEndpoint) sendConfirm(refID uint16) {
	m := &protocol.ConfirmMessage{RefID: refID}
	payload, err := protocol.EncodeBinary(m)
	if err != nil {
		return
	}
	e.wlog.Sent(m, e.peerAddr())
	e.metrics.RecordMessageSent(m.Type())
	e.writeToPeer(payload)
}

func (e *UDPEndpoint) isConfirmed(id uint16) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.confirmed[id]
	return ok
}

func (e *UDPEndpoint) latchPeer(addr net.Addr) {
	e.peerMu.Lock()
	if e.peer == nil {
		e.peer = addr
	}
	e.peerMu.Unlock()
}

func (e *UDPEndpoint) peerAddr() net.Addr {
	e.peerMu.RLock()
	defer e.peerMu.RUnlock()
	return e.peer
}

func (e *UDPEndpoint) writeToPeer(payload []byte) error {
	peer := e.peerAddr()
	if peer == nil {
		return fmt.Errorf("datagram write: no peer latched yet")
	}
	_, err := e.readConn().WriteTo(payload, peer)
	return err
}

func (e *UDPEndpoint) readConn() net.PacketConn {
	e.connMu.RLock()
	defer e.connMu.RUnlock()
	return e.conn
}

var _ Endpoint = (*UDPEndpoint)(nil)
