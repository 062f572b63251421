package lib

import (
	"fmt"
	"net"
)

// Address is a MIC-TCP endpoint: a simulated IP address plus a port.
type Address struct {
	IP   net.IP
	Port uint16
}

func (a Address) String() string {
	return net.JoinHostPort(a.IP.String(), fmt.Sprint(a.Port))
}

// ResolveAddress parses "host:port" into an Address.
func ResolveAddress(s string) (Address, error) {
	ipAddr, err := net.ResolveUDPAddr("udp4", s)
	if err != nil {
		return Address{}, err
	}
	if ipAddr.Port <= 0 || ipAddr.Port > 65535 {
		return Address{}, fmt.Errorf("port %d out of range", ipAddr.Port)
	}
	return Address{IP: ipAddr.IP.To4(), Port: uint16(ipAddr.Port)}, nil
}

// flipBit advances an alternating-bit sequence number.
func flipBit(seq uint32) uint32 {
	return (seq + 1) % 2
}

func sameIP(a, b net.IP) bool {
	return a.Equal(b)
}
