// Package ipsim is the unreliable IP service MIC-TCP runs on. It moves opaque
// datagrams between simulated IP addresses, drops a configurable share of
// them, and can record everything it carries into a pcap file.
package ipsim

import (
	"errors"
	"net"
	"time"
)

// Mode selects which side of the fixed port pair a UDP transport listens on.
type Mode int

const (
	Client Mode = iota
	Server
)

func (m Mode) String() string {
	if m == Server {
		return "server"
	}
	return "client"
}

// Transport is the narrow interface the transport engine consumes.
type Transport interface {
	// Send hands b to the network for dst. A datagram lost by the network
	// still counts as sent.
	Send(b []byte, dst net.IP) (int, error)
	// Receive waits up to timeout for one datagram. A zero timeout waits
	// forever. On timeout the error satisfies IsTimeout.
	Receive(buf []byte, timeout time.Duration) (n int, local, remote net.IP, err error)
	// SetLossRate sets the share of outgoing datagrams to drop, in percent.
	SetLossRate(percent int)
	LocalIP() net.IP
	Close() error
}

// Config holds the UDP transport settings.
type Config struct {
	ListenIP    string `yaml:"listen_ip"`
	ServerPort  int    `yaml:"server_port"`
	ClientPort  int    `yaml:"client_port"`
	CaptureFile string `yaml:"capture_file"`
}

func DefaultConfig() *Config {
	return &Config{
		ListenIP:   "127.0.0.1",
		ServerPort: 8524,
		ClientPort: 8525,
	}
}

var ErrClosed = errors.New("ipsim: transport closed")

type TimeoutError struct {
	msg string
}

func (e *TimeoutError) Error() string {
	return e.msg
}

func (e *TimeoutError) Timeout() bool {
	return true
}

func (e *TimeoutError) Temporary() bool {
	return false
}

var errTimeout = &TimeoutError{msg: "ipsim: receive timeout"}

// IsTimeout reports whether err is a receive timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
