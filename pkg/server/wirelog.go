package server

import (
	"net"

	"github.com/rs/zerolog"

	"github.com/parleychat/parley/pkg/protocol"
)

// WireLogger records every message crossing a transport boundary with its
// type, direction, and peer endpoint. Purely observational: it never
// affects control flow, and a nil *WireLogger is a valid no-op.
type WireLogger struct {
	log zerolog.Logger
}

func NewWireLogger(log zerolog.Logger) *WireLogger {
	return &WireLogger{log: log}
}

func (l *WireLogger) Sent(m protocol.Message, peer net.Addr) {
	if l == nil {
		return
	}
	l.event(m, peer, "SENT")
}

func (l *WireLogger) Received(m protocol.Message, peer net.Addr) {
	if l == nil {
		return
	}
	l.event(m, peer, "RECV")
}

func (l *WireLogger) event(m protocol.Message, peer net.Addr, dir string) {
	peerStr := "unknown"
	if peer != nil {
		peerStr = peer.String()
	}
	l.log.Info().
		Str("dir", dir).
		Str("type", m.Type().String()).
		Str("peer", peerStr).
		Msg("wire")
}
