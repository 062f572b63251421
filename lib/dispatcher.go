package lib

import (
	"net"

	"github.com/rs/zerolog/log"
)

// processReceivedSegment is called by the delivery goroutine for every
// decoded segment. Handshake segments drive the connection table, data is
// delivered in order and acknowledged, and whatever Connect or Send wait for
// goes to the inbox.
func (s *Stack) processReceivedSegment(seg *Segment, local, remote net.IP) {
	peer := Address{IP: remote, Port: seg.SourcePort}

	switch {
	case seg.IsSYN() && !seg.IsACK():
		s.handleSyn(seg, peer)
	case seg.IsSYN() && seg.IsACK():
		s.pushInbox(seg)
	case seg.IsACK():
		if s.registry.completeHandshake(peer) {
			log.Info().Str("peer", peer.String()).Msg("handshake completed")
			return
		}
		s.pushInbox(seg)
	default:
		s.handleData(seg, peer)
	}
}

func (s *Stack) handleSyn(seg *Segment, peer Address) {
	localAddr, ok := s.registry.acceptSyn(seg.DestinationPort, peer)
	if !ok {
		s.metrics.SegmentsDropped.WithLabelValues("no_listener").Inc()
		log.Debug().Str("peer", peer.String()).Uint16("port", seg.DestinationPort).Msg("no listener for connection request")
		return
	}
	log.Debug().Str("peer", peer.String()).Msg("connection request received")
	synAck := newSegment(localAddr.Port, peer.Port, 0, 1, SYNFlag|ACKFlag, nil)
	_ = s.sendSegment(synAck, peer.IP)
}

func (s *Stack) handleData(seg *Segment, peer Address) {
	fd, connected := s.registry.dataTarget(seg.DestinationPort, peer)
	if fd < 0 {
		s.metrics.SegmentsDropped.WithLabelValues("unknown_port").Inc()
		log.Debug().Uint16("port", seg.DestinationPort).Msg("data for unknown port")
		return
	}
	if !connected {
		s.metrics.SegmentsDropped.WithLabelValues("not_connected").Inc()
		log.Debug().Int("fd", fd).Msg("data for a connection that is not established")
		return
	}

	s.seqMu.Lock()
	if seg.SequenceNumber == s.nextExpected {
		if s.appBuf.put(seg.Payload) {
			s.nextExpected = flipBit(s.nextExpected)
		} else {
			s.metrics.SegmentsDropped.WithLabelValues("buffer_full").Inc()
			log.Warn().Int("fd", fd).Msg("application buffer full, dropping segment")
		}
	} else {
		s.metrics.SegmentsDropped.WithLabelValues("duplicate").Inc()
		log.Debug().Int("fd", fd).Uint32("seq", seg.SequenceNumber).Msg("unexpected sequence number")
	}
	ackNum := s.nextExpected
	s.seqMu.Unlock()

	ack := newSegment(seg.DestinationPort, seg.SourcePort, 0, ackNum, ACKFlag, nil)
	_ = s.sendSegment(ack, peer.IP)
}
