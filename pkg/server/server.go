package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/parleychat/parley/pkg/protocol"
)

// Server owns the two listeners and fans every accepted connection out
// into its own session pipeline. TCP connections map one to one onto
// sessions; UDP sessions are demultiplexed by peer address, with each
// admitted peer migrated onto an ephemeral local port.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	auth     Authenticator
	metrics  *Metrics
	channels *ChannelDirectory
	wlog     *WireLogger

	tcpListener net.Listener
	udpConn     net.PacketConn
	httpServer  *http.Server

	peerMu sync.Mutex
	peers  map[string]*udpPeer

	wg sync.WaitGroup
}

// udpPeer tracks an admitted datagram session so retransmissions of the
// opening request arriving on the accept port still reach it.
type udpPeer struct {
	endpoint *UDPEndpoint
	sess     *Session
}

func NewServer(cfg Config, auth Authenticator, log zerolog.Logger) *Server {
	metrics := NewMetrics()
	return &Server{
		cfg:      cfg,
		log:      log,
		auth:     auth,
		metrics:  metrics,
		channels: NewChannelDirectory(metrics),
		wlog:     NewWireLogger(log),
		peers:    make(map[string]*udpPeer),
	}
}

// Run binds both listeners and serves until ctx is cancelled. A failure to
// bind either listener is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	tcpListener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind tcp listener: %w", err)
	}
	s.tcpListener = tcpListener

	udpConn, err := net.ListenPacket("udp", addr)
	if err != nil {
		tcpListener.Close()
		return fmt.Errorf("bind udp listener: %w", err)
	}
	s.udpConn = udpConn

	s.startMetricsServer()
	s.log.Info().Str("addr", addr).Msg("server listening")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var accepts sync.WaitGroup
	accepts.Add(2)
	go func() {
		defer accepts.Done()
		s.acceptTCP(ctx)
	}()
	go func() {
		defer accepts.Done()
		s.acceptUDP(ctx)
	}()

	<-ctx.Done()
	s.log.Info().Msg("shutting down")

	// Closing the listeners unblocks both accept loops; the session
	// contexts are children of ctx and are already cancelled.
	s.tcpListener.Close()
	s.udpConn.Close()
	accepts.Wait()
	s.wg.Wait()

	if s.httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		s.httpServer.Shutdown(shutdownCtx)
	}
	s.log.Info().Msg("server stopped")
	return nil
}

func (s *Server) acceptTCP(ctx context.Context) {
	for {
		conn, err := s.tcpListener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn().Err(err).Msg("tcp accept failed")
			continue
		}

		s.log.Debug().Str("peer", conn.RemoteAddr().String()).Msg("tcp connection accepted")
		endpoint := NewTCPEndpoint(conn, s.wlog, s.metrics)
		sess := NewSession(endpoint, s.channels, s.auth, s.cfg.DrainGrace, s.log, s.metrics)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.Run(ctx)
		}()
	}
}

// acceptUDP reads the shared datagram socket. The first datagram from an
// unknown peer opens a session on a fresh ephemeral port; later datagrams
// from the same peer on this port are retransmissions sent before the
// peer learned the session port, and are routed to the existing session.
func (s *Server) acceptUDP(ctx context.Context) {
	buf := make([]byte, udpReadBufferSize)
	for {
		n, addr, err := s.udpConn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn().Err(err).Msg("udp read failed")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		s.peerMu.Lock()
		peer, known := s.peers[addr.String()]
		s.peerMu.Unlock()

		if known {
			if in := peer.endpoint.Admit(data, addr); in.Result != ResultDuplicate {
				peer.sess.Accept(in)
			}
			continue
		}

		s.admitUDP(ctx, data, addr)
	}
}

func (s *Server) admitUDP(ctx context.Context, data []byte, addr net.Addr) {
	endpoint := NewUDPEndpoint(s.udpConn, addr, s.cfg.Host, s.cfg.ConfirmTimeout, s.cfg.ConfirmRetries, s.wlog, s.metrics)
	if err := endpoint.Rebind(); err != nil {
		s.log.Warn().Err(err).Msg("udp session bind failed")
		return
	}

	// The confirmation for this datagram goes out through the session
	// socket, which is how the peer learns the session's port.
	in := endpoint.Admit(data, addr)
	if in.Msg.Type() == protocol.TypeConfirm {
		// A stray confirmation from an unknown peer opens nothing.
		endpoint.Close()
		return
	}

	s.log.Debug().Str("peer", addr.String()).Msg("udp session admitted")
	sess := NewSession(endpoint, s.channels, s.auth, s.cfg.DrainGrace, s.log, s.metrics)
	sess.Accept(in)

	key := addr.String()
	s.peerMu.Lock()
	s.peers[key] = &udpPeer{endpoint: endpoint, sess: sess}
	s.peerMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.peerMu.Lock()
			delete(s.peers, key)
			s.peerMu.Unlock()
		}()
		sess.Run(ctx)
	}()
}

func (s *Server) startMetricsServer() {
	if s.cfg.MetricsPort == 0 {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.MetricsPort)),
		Handler: mux,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	s.log.Info().Int("port", s.cfg.MetricsPort).Msg("metrics server listening")
}
