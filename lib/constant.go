package lib

// Connection states
const (
	Idle      State = iota // created by Open
	WaitSyn                // passive side waiting for a connection request
	WaitAck                // passive side waiting for the final handshake ACK
	SynSent                // active side waiting for SYN-ACK
	Connected              // handshake completed
	Closed                 // terminal
)

// Flag constants
const (
	ACKFlag uint8 = 1 << 4
	SYNFlag uint8 = 1 << 1
	FINFlag uint8 = 1 << 0
)

const (
	SegmentHeaderLength = 16 // ports, seq, ack, flags, reserved, checksum
	MaxDatagramSize     = 65507
)

// State is the lifecycle state of a connection.
type State int

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case WaitSyn:
		return "WAIT_SYN"
	case WaitAck:
		return "WAIT_ACK"
	case SynSent:
		return "SYN_SENT"
	case Connected:
		return "CONNECTED"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
