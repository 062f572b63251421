package lib

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentMarshalLayout(t *testing.T) {
	seg := newSegment(9000, 32768, 1, 0, 0, []byte("hello"))
	buf := make([]byte, 64)

	n, err := seg.Marshal(buf)
	require.NoError(t, err)
	require.Equal(t, SegmentHeaderLength+5, n)

	frame := buf[:n]
	assert.Equal(t, uint16(9000), binary.BigEndian.Uint16(frame[0:2]))
	assert.Equal(t, uint16(32768), binary.BigEndian.Uint16(frame[2:4]))
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(frame[4:8]))
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(frame[8:12]))
	assert.Equal(t, uint8(0), frame[12])
	assert.Equal(t, seg.Checksum, binary.BigEndian.Uint16(frame[14:16]))
	assert.Equal(t, "hello", string(frame[SegmentHeaderLength:]))
	assert.True(t, VerifyChecksum(frame))
}

func TestSegmentUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		segment *Segment
		flags   string
	}{
		{"syn", newSegment(1, 2, 0, 0, SYNFlag, nil), "SYN"},
		{"syn-ack", newSegment(2, 1, 0, 1, SYNFlag|ACKFlag, nil), "SYN|ACK"},
		{"ack", newSegment(1, 2, 0, 1, ACKFlag, nil), "ACK"},
		{"data", newSegment(1, 2, 1, 0, 0, []byte("odd")), "DATA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 64)
			n, err := tt.segment.Marshal(buf)
			require.NoError(t, err)

			got := &Segment{}
			require.NoError(t, got.Unmarshal(buf[:n]))
			assert.Equal(t, tt.segment.SourcePort, got.SourcePort)
			assert.Equal(t, tt.segment.DestinationPort, got.DestinationPort)
			assert.Equal(t, tt.segment.SequenceNumber, got.SequenceNumber)
			assert.Equal(t, tt.segment.AcknowledgmentNum, got.AcknowledgmentNum)
			assert.Equal(t, tt.segment.Flags, got.Flags)
			assert.Equal(t, tt.segment.Payload, got.Payload)
			assert.Equal(t, tt.flags, got.flagString())
		})
	}
}

func TestSegmentUnmarshalRejects(t *testing.T) {
	err := (&Segment{}).Unmarshal(make([]byte, SegmentHeaderLength-1))
	assert.Error(t, err)

	buf := make([]byte, 64)
	n, err := newSegment(1, 2, 0, 0, 0, []byte("payload")).Marshal(buf)
	require.NoError(t, err)
	buf[SegmentHeaderLength] ^= 0xff
	assert.ErrorIs(t, (&Segment{}).Unmarshal(buf[:n]), ErrChecksumMismatch)
}

func TestSegmentMarshalBufferTooSmall(t *testing.T) {
	_, err := newSegment(1, 2, 0, 0, 0, []byte("hello")).Marshal(make([]byte, SegmentHeaderLength))
	assert.Error(t, err)
}
