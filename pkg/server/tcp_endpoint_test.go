package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/pkg/protocol"
)

func newPipeEndpoint(t *testing.T) (*TCPEndpoint, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return NewTCPEndpoint(server, nil, nil), client
}

func TestTCPSendWritesProtocolLine(t *testing.T) {
	ep, client := newPipeEndpoint(t)

	done := make(chan error, 1)
	go func() {
		done <- ep.Send(context.Background(), &protocol.MsgMessage{DisplayName: "Server", Content: "hello"})
	}()

	buf := make([]byte, 256)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "MSG FROM Server IS hello\r\n", string(buf[:n]))
	require.NoError(t, <-done)
}

func TestTCPListenDecodesLines(t *testing.T) {
	ep, client := newPipeEndpoint(t)

	go client.Write([]byte("AUTH alice AS Alice USING hunter2\r\n"))

	in, err := ep.Listen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultOK, in.Result)
	assert.Equal(t,
		&protocol.AuthMessage{Username: "alice", DisplayName: "Alice", Secret: "hunter2"},
		in.Msg)
}

func TestTCPListenDeliversCoalescedLinesInOrder(t *testing.T) {
	ep, client := newPipeEndpoint(t)

	go client.Write([]byte("MSG FROM Alice IS one\r\nMSG FROM Alice IS two\r\n"))

	first, err := ep.Listen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one", first.Msg.(*protocol.MsgMessage).Content)

	// Second line comes from the queue without touching the socket again.
	second, err := ep.Listen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "two", second.Msg.(*protocol.MsgMessage).Content)
}

func TestTCPListenFlagsGarbage(t *testing.T) {
	ep, client := newPipeEndpoint(t)

	go client.Write([]byte("NONSENSE\r\n"))

	in, err := ep.Listen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultParseError, in.Result)
}

func TestTCPSendReplyAndError(t *testing.T) {
	ep, client := newPipeEndpoint(t)

	go func() {
		ep.SendReply(context.Background(), false, "nope", nil)
		ep.SendError(context.Background(), "broken")
		ep.Leave(context.Background())
	}()

	var got []byte
	buf := make([]byte, 256)
	deadline := time.Now().Add(time.Second)
	want := "REPLY NOK IS nope\r\nERR FROM Server IS broken\r\nBYE\r\n"
	for len(got) < len(want) && time.Now().Before(deadline) {
		client.SetReadDeadline(deadline)
		n, err := client.Read(buf)
		if err != nil {
			break
		}
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, want, string(got))
}

func TestTCPCancelReadUnblocksListen(t *testing.T) {
	ep, _ := newPipeEndpoint(t)

	done := make(chan error, 1)
	go func() {
		_, err := ep.Listen(context.Background())
		done <- err
	}()

	time.Sleep(5 * time.Millisecond)
	ep.CancelRead()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Listen did not unblock after CancelRead")
	}
}
