package lib

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Segment represents a MIC-TCP PDU
type Segment struct {
	SourcePort        uint16 // SourcePort represents the source port
	DestinationPort   uint16 // DestinationPort represents the destination port
	SequenceNumber    uint32 // single alternating bit
	AcknowledgmentNum uint32 // single alternating bit, except SYN-ACK/ACK of the handshake
	Flags             uint8  // Flags represent various control flags
	Checksum          uint16 // Checksum is the checksum of the segment
	Payload           []byte // Payload represents the payload data
}

func newSegment(srcPort, dstPort uint16, seqNum, ackNum uint32, flags uint8, payload []byte) *Segment {
	return &Segment{
		SourcePort:        srcPort,
		DestinationPort:   dstPort,
		SequenceNumber:    seqNum,
		AcknowledgmentNum: ackNum,
		Flags:             flags,
		Payload:           payload,
	}
}

func (s *Segment) IsSYN() bool { return s.Flags&SYNFlag != 0 }
func (s *Segment) IsACK() bool { return s.Flags&ACKFlag != 0 }
func (s *Segment) IsFIN() bool { return s.Flags&FINFlag != 0 }

// Marshal writes the segment into buffer and returns the length of the frame.
func (s *Segment) Marshal(buffer []byte) (int, error) {
	frameLength := SegmentHeaderLength + len(s.Payload)
	if frameLength > len(buffer) {
		return 0, fmt.Errorf("buffer size (%d) is too small to hold the frame (%d)", len(buffer), frameLength)
	}
	frame := buffer[:frameLength]

	binary.BigEndian.PutUint16(frame[0:2], s.SourcePort)
	binary.BigEndian.PutUint16(frame[2:4], s.DestinationPort)
	binary.BigEndian.PutUint32(frame[4:8], s.SequenceNumber)
	binary.BigEndian.PutUint32(frame[8:12], s.AcknowledgmentNum)
	frame[12] = s.Flags
	frame[13] = 0 // reserved
	// leave the checksum as all zero while summing
	binary.BigEndian.PutUint16(frame[14:16], 0)

	if len(s.Payload) > 0 {
		copy(frame[SegmentHeaderLength:], s.Payload)
	}

	s.Checksum = CalculateChecksum(frame)
	binary.BigEndian.PutUint16(frame[14:16], s.Checksum)

	return frameLength, nil
}

// Unmarshal decodes data into the segment. The payload aliases data.
func (s *Segment) Unmarshal(data []byte) error {
	if len(data) < SegmentHeaderLength {
		return fmt.Errorf("the length(%d) of data is too short to be unmarshalled", len(data))
	}
	if !VerifyChecksum(data) {
		return ErrChecksumMismatch
	}

	s.SourcePort = binary.BigEndian.Uint16(data[0:2])
	s.DestinationPort = binary.BigEndian.Uint16(data[2:4])
	s.SequenceNumber = binary.BigEndian.Uint32(data[4:8])
	s.AcknowledgmentNum = binary.BigEndian.Uint32(data[8:12])
	s.Flags = data[12]
	s.Checksum = binary.BigEndian.Uint16(data[14:16])

	if len(data) > SegmentHeaderLength {
		s.Payload = data[SegmentHeaderLength:]
	} else {
		s.Payload = nil
	}
	return nil
}

func (s *Segment) flagString() string {
	var names []string
	if s.IsSYN() {
		names = append(names, "SYN")
	}
	if s.IsACK() {
		names = append(names, "ACK")
	}
	if s.IsFIN() {
		names = append(names, "FIN")
	}
	if len(names) == 0 {
		return "DATA"
	}
	return strings.Join(names, "|")
}

func CalculateChecksum(buffer []byte) uint16 {
	var cksum uint32 = 0

	// Process 16-bit words (2 bytes each)
	for i := 0; i < len(buffer)-1; i += 2 {
		cksum += uint32(binary.BigEndian.Uint16(buffer[i : i+2]))
	}

	// Handle remaining odd byte, if any
	if len(buffer)%2 != 0 {
		cksum += uint32(buffer[len(buffer)-1]) << 8
	}

	// Fold 32-bit sum to 16 bits
	cksum = (cksum >> 16) + (cksum & 0xffff)
	cksum += (cksum >> 16)

	return ^uint16(cksum)
}

func VerifyChecksum(frame []byte) bool {
	if len(frame) < SegmentHeaderLength {
		return false
	}
	receivedChecksum := binary.BigEndian.Uint16(frame[14:16])

	// Zero out the checksum field for calculation, then restore it
	binary.BigEndian.PutUint16(frame[14:16], 0)
	calculatedChecksum := CalculateChecksum(frame)
	binary.BigEndian.PutUint16(frame[14:16], receivedChecksum)

	return receivedChecksum == calculatedChecksum
}
