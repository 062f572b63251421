package lib

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Accept waits for a peer to open a connection to the bound fd. The
// dispatcher answers the SYN; Accept resends the SYN-ACK and returns the
// peer address once the final ACK (or the first data segment) has arrived.
// Cancelling ctx returns the connection to IDLE.
func (s *Stack) Accept(ctx context.Context, fd int) (Address, error) {
	_, _, bound, err := s.registry.addresses(fd)
	if err != nil {
		return Address{}, err
	}
	if !bound {
		return Address{}, ErrNotBound
	}
	if !s.registry.compareAndSetState(fd, Idle, WaitSyn) {
		st, err := s.registry.state(fd)
		if err != nil {
			return Address{}, err
		}
		if st == Closed {
			return Address{}, ErrConnectionClosed
		}
		return Address{}, fmt.Errorf("accept on a connection in state %s", st)
	}
	log.Info().Int("fd", fd).Msg("waiting for a connection request")

	st, err := s.registry.waitWhile(ctx, fd, WaitSyn)
	if err != nil {
		s.registry.compareAndSetState(fd, WaitSyn, Idle)
		s.metrics.Handshakes.WithLabelValues("passive", "cancelled").Inc()
		return Address{}, err
	}
	if st == Closed {
		return Address{}, ErrConnectionClosed
	}

	local, remote, _, err := s.registry.addresses(fd)
	if err != nil {
		return Address{}, err
	}
	if st == WaitAck {
		synAck := newSegment(local.Port, remote.Port, 0, 1, SYNFlag|ACKFlag, nil)
		_ = s.sendSegment(synAck, remote.IP)
	}

	st, err = s.registry.waitWhile(ctx, fd, WaitAck)
	if err != nil {
		s.registry.compareAndSetState(fd, WaitAck, Idle)
		s.metrics.Handshakes.WithLabelValues("passive", "cancelled").Inc()
		return Address{}, err
	}
	if st != Connected {
		return Address{}, ErrConnectionClosed
	}

	s.metrics.Handshakes.WithLabelValues("passive", "ok").Inc()
	log.Info().Int("fd", fd).Str("peer", remote.String()).Msg("connection accepted")
	return remote, nil
}

// Connect performs the active open towards addr. An unbound fd is bound to
// the local IP and a port from the ephemeral pool first. The SYN is resent
// up to ConnectRetries times; on failure the connection returns to IDLE.
func (s *Stack) Connect(ctx context.Context, fd int, addr Address) error {
	local, _, bound, err := s.registry.addresses(fd)
	if err != nil {
		return err
	}
	if !bound {
		local, err = s.bindEphemeral(fd)
		if err != nil {
			return err
		}
	}
	if err := s.registry.prepareConnect(fd, addr); err != nil {
		return err
	}

	s.inboxMu.Lock()
	defer s.inboxMu.Unlock()
	s.drainInbox()

	syn := newSegment(local.Port, addr.Port, 0, 0, SYNFlag, nil)
	var synAck *Segment
	for attempt := 1; attempt <= s.config.ConnectRetries && synAck == nil; attempt++ {
		_ = s.sendSegment(syn, addr.IP)

		seg, err := s.awaitSegment(ctx, s.config.ConnectTimeout)
		switch {
		case err == nil && seg.IsSYN() && seg.IsACK() && seg.SourcePort == addr.Port:
			synAck = seg
		case err == nil:
			log.Debug().Int("fd", fd).Str("flags", seg.flagString()).Msg("unexpected segment while connecting")
		case errors.Is(err, ErrReceiveTimeout):
			log.Debug().Int("fd", fd).Int("attempt", attempt).Msg("no SYN-ACK, resending SYN")
		default:
			s.registry.compareAndSetState(fd, SynSent, Idle)
			s.metrics.Handshakes.WithLabelValues("active", "cancelled").Inc()
			return err
		}
	}
	if synAck == nil {
		s.registry.compareAndSetState(fd, SynSent, Idle)
		s.metrics.Handshakes.WithLabelValues("active", "timeout").Inc()
		log.Warn().Int("fd", fd).Str("peer", addr.String()).Int("attempts", s.config.ConnectRetries).Msg("connection request unanswered")
		return fmt.Errorf("%w: %d attempts to %s", ErrHandshakeTimeout, s.config.ConnectRetries, addr)
	}

	ack := newSegment(local.Port, addr.Port, 0, synAck.SequenceNumber+1, ACKFlag, nil)
	if err := s.sendSegment(ack, addr.IP); err != nil {
		s.registry.compareAndSetState(fd, SynSent, Idle)
		s.metrics.Handshakes.WithLabelValues("active", "error").Inc()
		return err
	}
	if !s.registry.compareAndSetState(fd, SynSent, Connected) {
		return ErrConnectionClosed
	}

	s.metrics.Handshakes.WithLabelValues("active", "ok").Inc()
	log.Info().Int("fd", fd).Str("local", local.String()).Str("peer", addr.String()).Msg("connection established")
	return nil
}

func (s *Stack) bindEphemeral(fd int) (Address, error) {
	port, err := s.ports.allocatePort(s.registry.portInUse)
	if err != nil {
		return Address{}, err
	}
	local := Address{IP: s.ip.LocalIP(), Port: port}
	if err := s.registry.bind(fd, local, true); err != nil {
		if rerr := s.ports.returnPort(port); rerr != nil {
			log.Warn().Err(rerr).Uint16("port", port).Msg("failed to return ephemeral port")
		}
		return Address{}, err
	}
	log.Debug().Int("fd", fd).Str("addr", local.String()).Msg("socket bound to ephemeral port")
	return local, nil
}
