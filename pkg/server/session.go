package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleychat/parley/pkg/protocol"
)

// queueDepth bounds the per-session inbound and outbound queues.
const queueDepth = 64

// drainer is satisfied by the datagram endpoint, which keeps confirming
// straggler retransmissions for a grace period after the loops stop.
type drainer interface {
	Drain(grace time.Duration)
}

// Session is the server-side state of one connection: the user's identity
// once authenticated, the channel they sit in, and the three pipeline loops
// moving messages between the transport and the orchestrator.
type Session struct {
	endpoint  Endpoint
	workflow  *Workflow
	processor *Processor
	log       zerolog.Logger
	metrics   *Metrics

	drainGrace time.Duration

	mu          sync.RWMutex
	username    string
	displayName string
	channel     *Channel

	inbound  chan *Inbound
	outbound chan protocol.Message
	stopped  chan struct{}
}

func NewSession(endpoint Endpoint, channels *ChannelDirectory, auth Authenticator, drainGrace time.Duration, log zerolog.Logger, metrics *Metrics) *Session {
	s := &Session{
		endpoint:   endpoint,
		workflow:   NewWorkflow(),
		log:        log,
		metrics:    metrics,
		drainGrace: drainGrace,
		inbound:    make(chan *Inbound, queueDepth),
		outbound:   make(chan protocol.Message, queueDepth),
		stopped:    make(chan struct{}),
	}
	s.processor = NewProcessor(auth, channels, endpoint, s, s.workflow, log)
	return s
}

// Username is immutable once set by a successful authentication.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) DisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayName
}

// SetIdentity binds the username and initial display name after a
// successful authentication. The username never changes afterwards.
func (s *Session) SetIdentity(username, displayName string) {
	s.mu.Lock()
	if s.username == "" {
		s.username = username
	}
	s.displayName = displayName
	s.mu.Unlock()
}

// SetDisplayName updates the mutable display name.
func (s *Session) SetDisplayName(displayName string) {
	s.mu.Lock()
	s.displayName = displayName
	s.mu.Unlock()
}

func (s *Session) ChannelRef() *Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channel
}

func (s *Session) SetChannel(ch *Channel) {
	s.mu.Lock()
	s.channel = ch
	s.mu.Unlock()
}

// Deliver queues a broadcast message for the send loop. It never blocks a
// stopped session: delivery to a session that is shutting down is dropped.
func (s *Session) Deliver(m protocol.Message) {
	select {
	case s.outbound <- m:
	case <-s.stopped:
	}
}

// Accept queues a message that arrived outside the pipeline: the
// connection's first request, or an accept-port retransmission. It never
// blocks the caller; with the queue full or the session stopped the
// message is dropped and the peer's retransmission finds the session port.
func (s *Session) Accept(in *Inbound) {
	select {
	case s.inbound <- in:
	default:
	}
}

// Run drives the three pipeline loops until the state machine reaches End,
// the transport fails, or the parent context is cancelled. Cleanup is
// unconditional: channel membership is released, a best-effort Bye goes out
// if the conversation had not ended, and the transport is closed.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.metrics.RecordSessionStarted()
	defer s.metrics.RecordSessionStopped()

	// Cancellation must unblock the receive loop's transport read.
	go func() {
		<-ctx.Done()
		close(s.stopped)
		s.endpoint.CancelRead()
	}()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.receiveLoop(ctx, cancel)
	}()
	go func() {
		defer wg.Done()
		s.processLoop(ctx, cancel)
	}()
	go func() {
		defer wg.Done()
		s.sendLoop(ctx, cancel)
	}()
	wg.Wait()

	if d, ok := s.endpoint.(drainer); ok {
		// Drain in parallel with shutdown so the confirmation for the
		// closing Bye can still be received after the loops stopped.
		var drainWG sync.WaitGroup
		drainWG.Add(1)
		go func() {
			defer drainWG.Done()
			d.Drain(s.drainGrace)
		}()
		s.processor.Shutdown()
		drainWG.Wait()
	} else {
		s.processor.Shutdown()
	}
	s.endpoint.Close()
	s.log.Debug().Str("user", s.Username()).Msg("session stopped")
}

func (s *Session) receiveLoop(ctx context.Context, cancel context.CancelFunc) {
	for {
		in, err := s.endpoint.Listen(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Debug().Err(err).Msg("receive loop stopped")
			}
			cancel()
			return
		}
		select {
		case s.inbound <- in:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) processLoop(ctx context.Context, cancel context.CancelFunc) {
	for {
		// Messages already queued are processed even if the receive loop
		// just hit end-of-stream and cancelled the session.
		var in *Inbound
		select {
		case in = <-s.inbound:
		default:
			select {
			case in = <-s.inbound:
			case <-ctx.Done():
				return
			}
		}

		err := s.processor.Process(ctx, in)
		if err != nil {
			if errors.Is(err, ErrNotConfirmed) {
				cancel()
				return
			}
			if ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("processing failed")
			}
		}
		if s.workflow.Ended() {
			cancel()
			return
		}
	}
}

func (s *Session) sendLoop(ctx context.Context, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.outbound:
			if err := s.endpoint.Send(ctx, m); err != nil {
				if ctx.Err() == nil {
					s.log.Debug().Err(err).Msg("send loop stopped")
				}
				cancel()
				return
			}
		}
	}
}
