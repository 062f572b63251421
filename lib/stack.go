package lib

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/Clouded-Sabre/mic-tcp/ipsim"
	rp "github.com/Clouded-Sabre/ringpool/lib"
)

const shutdownGrace = 2 * time.Second

// TransportFactory creates the IP layer on the first Open.
type TransportFactory func(mode ipsim.Mode) (ipsim.Transport, error)

// UDPTransportFactory returns a factory for the UDP simulated IP layer.
func UDPTransportFactory(cfg *ipsim.Config) TransportFactory {
	return func(mode ipsim.Mode) (ipsim.Transport, error) {
		return ipsim.NewUDP(mode, cfg)
	}
}

// Stack is the MIC-TCP engine of one process: the connection table, the
// sequence counters of its single data flow, the loss window and the
// goroutine that feeds inbound segments to the dispatcher.
type Stack struct {
	config       *StackConfig
	newTransport TransportFactory
	initMu       sync.Mutex
	ip           ipsim.Transport
	mode         ipsim.Mode

	registry *Registry
	ports    *PortPool
	window   *LossWindow
	pool     *rp.RingPool
	appBuf   *appBuffer
	inbox    chan *Segment // segments the dispatcher hands to Connect and Send
	inboxMu  sync.Mutex    // one Connect or Send consumes the inbox at a time
	metrics  *Metrics

	seqMu        sync.Mutex
	nextSend     uint32 // sequence bit of the next data segment to send
	nextExpected uint32 // sequence bit of the next data segment to accept

	closeSignal chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// Stats is a snapshot of the protocol counters.
type Stats struct {
	NextSend       uint32
	NextExpected   uint32
	WindowLosses   int
	WindowSize     int
	PendingPayload int
}

// NewStack creates a Stack. The transport is created lazily by the first
// Open. Metrics are registered with reg when it is not nil.
func NewStack(cfg *StackConfig, newTransport TransportFactory, reg prometheus.Registerer) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stack configuration: %w", err)
	}
	if newTransport == nil {
		return nil, errors.New("transport factory must not be nil")
	}

	closeSignal := make(chan struct{})
	pool := newPayloadPool(cfg.PayloadPoolSize, cfg.MaxPayload, cfg.PoolDebug, cfg.ProcessTimeThreshold)

	s := &Stack{
		config:       cfg,
		newTransport: newTransport,
		registry:     newRegistry(cfg.MaxConnections),
		ports:        newPortPool(cfg.ClientPortLower, cfg.ClientPortUpper),
		window:       newLossWindow(cfg.LossWindowSize),
		pool:         pool,
		appBuf:       newAppBuffer(pool, cfg.AppBufferSize, closeSignal),
		inbox:        make(chan *Segment, cfg.InboxSize),
		metrics:      NewMetrics(reg),
		closeSignal:  closeSignal,
	}
	return s, nil
}

// Open initializes the transport on first use, applies the configured loss
// rate and allocates the next descriptor in state IDLE.
func (s *Stack) Open(mode ipsim.Mode) (int, error) {
	if err := s.initTransport(mode); err != nil {
		return -1, err
	}
	fd, err := s.registry.allocate()
	if err != nil {
		return -1, err
	}
	log.Info().Int("fd", fd).Str("mode", mode.String()).Msg("socket opened")
	return fd, nil
}

func (s *Stack) initTransport(mode ipsim.Mode) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	select {
	case <-s.closeSignal:
		return ErrStackClosed
	default:
	}
	if s.ip != nil {
		if mode != s.mode {
			log.Warn().Str("mode", mode.String()).Str("transportMode", s.mode.String()).Msg("transport already running in another mode")
		}
		return nil
	}

	t, err := s.newTransport(mode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportInit, err)
	}
	t.SetLossRate(s.config.LossRate)
	s.ip = t
	s.mode = mode

	s.wg.Add(1)
	go s.handleIncomingPackets()
	return nil
}

// Bind assigns a local address to fd.
func (s *Stack) Bind(fd int, addr Address) error {
	if err := s.registry.bind(fd, addr, false); err != nil {
		return err
	}
	log.Info().Int("fd", fd).Str("addr", addr.String()).Msg("socket bound")
	return nil
}

// Recv blocks until a delivered payload is available and copies it into buf.
func (s *Stack) Recv(ctx context.Context, fd int, buf []byte) (int, error) {
	st, err := s.registry.state(fd)
	if err != nil {
		return -1, err
	}
	if st == Closed {
		return -1, ErrConnectionClosed
	}
	n, err := s.appBuf.get(ctx, buf)
	if err != nil {
		return -1, err
	}
	return n, nil
}

// Close marks fd CLOSED. No teardown exchange takes place.
func (s *Stack) Close(fd int) error {
	port, ephemeral, err := s.registry.close(fd)
	if err != nil {
		return err
	}
	if ephemeral {
		if err := s.ports.returnPort(port); err != nil {
			log.Warn().Err(err).Uint16("port", port).Msg("failed to return ephemeral port")
		}
	}
	log.Info().Int("fd", fd).Msg("socket closed")
	return nil
}

// State returns the lifecycle state of fd.
func (s *Stack) State(fd int) (State, error) {
	return s.registry.state(fd)
}

func (s *Stack) Stats() Stats {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	return Stats{
		NextSend:       s.nextSend,
		NextExpected:   s.nextExpected,
		WindowLosses:   s.window.Losses(),
		WindowSize:     s.window.Size(),
		PendingPayload: s.appBuf.len(),
	}
}

// Shutdown closes every connection, stops the delivery goroutine and closes
// the transport. Blocked calls return ErrStackClosed or ErrConnectionClosed.
func (s *Stack) Shutdown() error {
	var result *multierror.Error
	s.closeOnce.Do(func() {
		close(s.closeSignal)
		s.registry.closeAll()

		s.initMu.Lock()
		t := s.ip
		s.initMu.Unlock()
		if t != nil {
			if err := t.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("close transport: %w", err))
			}
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownGrace):
			result = multierror.Append(result, errors.New("delivery goroutine did not stop"))
		}
		log.Info().Msg("MIC-TCP stack shut down")
	})
	return result.ErrorOrNil()
}

// sendSegment marshals seg and hands it to the IP layer. Failures are logged
// and returned; most callers carry on since the peer or the loss policy
// deals with a missing segment.
func (s *Stack) sendSegment(seg *Segment, dst net.IP) error {
	buf := make([]byte, SegmentHeaderLength+len(seg.Payload))
	n, err := seg.Marshal(buf)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal segment")
		return err
	}
	if _, err := s.ip.Send(buf[:n], dst); err != nil {
		log.Warn().Err(err).Str("flags", seg.flagString()).Str("dst", dst.String()).Msg("failed to send segment")
		return err
	}
	s.metrics.SegmentsSent.WithLabelValues(segmentKind(seg)).Inc()
	log.Debug().
		Str("flags", seg.flagString()).
		Uint32("seq", seg.SequenceNumber).
		Uint32("ack", seg.AcknowledgmentNum).
		Uint16("srcPort", seg.SourcePort).
		Uint16("dstPort", seg.DestinationPort).
		Int("size", len(seg.Payload)).
		Msg("segment sent")
	return nil
}

// handleIncomingPackets is the delivery loop: every datagram from the IP
// layer is decoded and passed to the dispatcher.
func (s *Stack) handleIncomingPackets() {
	defer s.wg.Done()

	buf := make([]byte, MaxDatagramSize)
	for {
		select {
		case <-s.closeSignal:
			return
		default:
		}

		n, local, remote, err := s.ip.Receive(buf, s.config.PollInterval)
		if err != nil {
			if ipsim.IsTimeout(err) {
				continue
			}
			if errors.Is(err, ipsim.ErrClosed) {
				return
			}
			log.Warn().Err(err).Msg("receive from IP layer failed")
			time.Sleep(s.config.PollInterval)
			continue
		}

		seg := &Segment{}
		if err := seg.Unmarshal(buf[:n]); err != nil {
			s.metrics.SegmentsDropped.WithLabelValues("malformed").Inc()
			log.Debug().Err(err).Str("remote", remote.String()).Msg("dropping malformed segment")
			continue
		}
		s.metrics.SegmentsReceived.WithLabelValues(segmentKind(seg)).Inc()
		s.processReceivedSegment(seg, local, remote)
	}
}

func (s *Stack) pushInbox(seg *Segment) {
	header := *seg
	header.Payload = nil
	select {
	case s.inbox <- &header:
	default:
		s.metrics.SegmentsDropped.WithLabelValues("inbox_full").Inc()
		log.Debug().Str("flags", seg.flagString()).Msg("inbox full, dropping segment")
	}
}

func (s *Stack) drainInbox() {
	for {
		select {
		case <-s.inbox:
		default:
			return
		}
	}
}

// awaitSegment is the timed receive of Connect and Send.
func (s *Stack) awaitSegment(ctx context.Context, timeout time.Duration) (*Segment, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case seg := <-s.inbox:
		return seg, nil
	case <-timer.C:
		return nil, ErrReceiveTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closeSignal:
		return nil, ErrStackClosed
	}
}
