package lib

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// Send transmits data as one segment and waits for its acknowledgement,
// stop-and-wait. A timed out segment is abandoned when the loss window still
// has room under ToleratedLosses and retransmitted otherwise. It returns the
// number of bytes handed to the peer.
func (s *Stack) Send(fd int, data []byte) (int, error) {
	if len(data) > s.config.MaxPayload {
		return -1, ErrPayloadTooLarge
	}
	local, remote, _, err := s.registry.addresses(fd)
	if err != nil {
		return -1, err
	}
	st, err := s.registry.state(fd)
	if err != nil {
		return -1, err
	}
	switch st {
	case Connected:
	case Closed:
		return -1, ErrConnectionClosed
	default:
		return -1, ErrNotConnected
	}

	s.inboxMu.Lock()
	defer s.inboxMu.Unlock()
	s.drainInbox()

	s.seqMu.Lock()
	seq := s.nextSend
	s.nextSend = flipBit(s.nextSend)
	expectedAck := s.nextSend
	s.seqMu.Unlock()

	pdu := newSegment(local.Port, remote.Port, seq, 0, 0, data)
	_ = s.sendSegment(pdu, remote.IP)

	for {
		ack, err := s.awaitSegment(context.Background(), s.config.AckTimeout)
		switch {
		case err == nil:
			if ack.IsACK() && !ack.IsSYN() && ack.SourcePort == remote.Port && ack.AcknowledgmentNum == expectedAck {
				s.recordOutcome(true)
				log.Debug().Int("fd", fd).Uint32("seq", seq).Msg("segment acknowledged")
				return len(data), nil
			}
			log.Debug().Int("fd", fd).Str("flags", ack.flagString()).Uint32("ack", ack.AcknowledgmentNum).Msg("ignoring segment while waiting for ACK")

		case errors.Is(err, ErrReceiveTimeout):
			s.metrics.AckTimeouts.Inc()
			s.recordOutcome(false)
			if s.window.Tolerates(s.config.ToleratedLosses) {
				// Give up on the segment; the next one reuses its sequence bit.
				s.seqMu.Lock()
				s.nextSend = seq
				s.seqMu.Unlock()
				s.metrics.ToleratedLosses.Inc()
				log.Info().Int("fd", fd).Uint32("seq", seq).Int("windowLosses", s.window.Losses()).Msg("segment loss tolerated")
				return len(data), nil
			}
			s.metrics.Retransmissions.Inc()
			log.Debug().Int("fd", fd).Uint32("seq", seq).Msg("retransmitting segment")
			_ = s.sendSegment(pdu, remote.IP)

		default:
			return -1, err
		}
	}
}

func (s *Stack) recordOutcome(success bool) {
	s.window.Record(success)
	s.metrics.WindowLosses.Set(float64(s.window.Losses()))
}
