package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/pkg/protocol"
)

func newUDPTestServer(t *testing.T) (*Server, net.PacketConn) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.ConfirmTimeout = 200 * time.Millisecond
	cfg.ConfirmRetries = 1
	cfg.DrainGrace = 20 * time.Millisecond

	srv := NewServer(cfg, AllowAll{}, zerolog.Nop())
	accept, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.udpConn = accept
	return srv, accept
}

func readServerDatagram(t *testing.T, conn net.PacketConn) (protocol.Message, net.Addr) {
	t.Helper()
	buf := make([]byte, udpReadBufferSize)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, addr, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	return protocol.DecodeBinary(buf[:n]), addr
}

// An admitted datagram peer migrates onto an ephemeral port: the
// confirmation of the opening request already arrives from the session
// socket, and a retransmission of that request still hitting the accept
// port is re-confirmed by the existing session instead of opening a
// second one.
func TestServerUDPAdmissionMigratesPort(t *testing.T) {
	srv, accept := newUDPTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		srv.acceptUDP(ctx)
	}()

	client, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	auth, err := protocol.EncodeBinary(&protocol.AuthMessage{
		Username: "alice", DisplayName: "Alice", Secret: "s",
	})
	require.NoError(t, err)
	_, err = client.WriteTo(auth, accept.LocalAddr())
	require.NoError(t, err)

	// The confirmation comes from the session port, not the accept port.
	m, sessAddr := readServerDatagram(t, client)
	confirm, ok := m.(*protocol.ConfirmMessage)
	require.True(t, ok, "expected a confirmation, got %s", m.Type())
	assert.Equal(t, uint16(0), confirm.RefID)
	assert.NotEqual(t,
		accept.LocalAddr().(*net.UDPAddr).Port,
		sessAddr.(*net.UDPAddr).Port)

	// The positive reply follows from the same session port; confirm it
	// so the session does not keep retransmitting.
	m, replyAddr := readServerDatagram(t, client)
	reply, ok := m.(*protocol.ReplyMessage)
	require.True(t, ok, "expected a reply, got %s", m.Type())
	assert.True(t, reply.Success)
	assert.Equal(t, sessAddr.String(), replyAddr.String())

	replyConfirm, err := protocol.EncodeBinary(&protocol.ConfirmMessage{RefID: reply.ID})
	require.NoError(t, err)
	_, err = client.WriteTo(replyConfirm, sessAddr)
	require.NoError(t, err)

	// Retransmit the opening request to the accept port, as a client that
	// missed the first confirmation would.
	_, err = client.WriteTo(auth, accept.LocalAddr())
	require.NoError(t, err)

	// A late retransmission of the reply may still be in flight; skip past
	// any until the re-confirmation arrives.
	for {
		m, addr := readServerDatagram(t, client)
		if _, isReply := m.(*protocol.ReplyMessage); isReply {
			continue
		}
		confirm, ok = m.(*protocol.ConfirmMessage)
		require.True(t, ok, "expected a re-confirmation, got %s", m.Type())
		assert.Equal(t, uint16(0), confirm.RefID)
		assert.Equal(t, sessAddr.String(), addr.String())
		break
	}

	srv.peerMu.Lock()
	assert.Len(t, srv.peers, 1, "retransmission must not open a second session")
	srv.peerMu.Unlock()

	cancel()
	accept.Close()
	<-acceptDone
	srv.wg.Wait()
}

// A stray confirmation from an unknown peer opens nothing.
func TestServerUDPStrayConfirmIgnored(t *testing.T) {
	srv, accept := newUDPTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		srv.acceptUDP(ctx)
	}()

	client, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	stray, err := protocol.EncodeBinary(&protocol.ConfirmMessage{RefID: 42})
	require.NoError(t, err)
	_, err = client.WriteTo(stray, accept.LocalAddr())
	require.NoError(t, err)

	// Nothing comes back and no session is registered.
	buf := make([]byte, udpReadBufferSize)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = client.ReadFrom(buf)
	require.Error(t, err)

	srv.peerMu.Lock()
	assert.Empty(t, srv.peers)
	srv.peerMu.Unlock()

	cancel()
	accept.Close()
	<-acceptDone
	srv.wg.Wait()
}
