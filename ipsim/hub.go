package ipsim

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// hubPort is the UDP port written into captures of in-memory traffic.
const hubPort = 8524

type datagram struct {
	src  net.IP
	data []byte
}

// Hub is an in-memory network. Every attached transport owns one simulated
// IP address; datagrams for unknown addresses vanish like on a real network.
type Hub struct {
	mu         sync.Mutex
	transports map[string]*MemTransport
	capture    *Capture
}

func NewHub() *Hub {
	return &Hub{transports: make(map[string]*MemTransport)}
}

// SetCapture records every delivered datagram into c.
func (h *Hub) SetCapture(c *Capture) {
	h.mu.Lock()
	h.capture = c
	h.mu.Unlock()
}

// Attach creates a transport owning ip. queueLen bounds the datagrams
// waiting to be received; overflow is dropped.
func (h *Hub) Attach(ip net.IP, queueLen int) (*MemTransport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := ip.String()
	if _, ok := h.transports[key]; ok {
		return nil, fmt.Errorf("address %s is already attached to the hub", key)
	}
	t := &MemTransport{
		hub:    h,
		ip:     ip,
		inbox:  make(chan datagram, queueLen),
		loss:   newLossInjector(),
		closed: make(chan struct{}),
	}
	h.transports[key] = t
	return t, nil
}

func (h *Hub) detach(t *MemTransport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.transports[t.ip.String()] == t {
		delete(h.transports, t.ip.String())
	}
}

func (h *Hub) deliver(src, dst net.IP, data []byte) {
	h.mu.Lock()
	target := h.transports[dst.String()]
	capture := h.capture
	h.mu.Unlock()

	if target == nil {
		log.Debug().Str("dst", dst.String()).Msg("no host attached, datagram lost")
		return
	}
	if capture != nil {
		if err := capture.Record(&net.UDPAddr{IP: src, Port: hubPort}, &net.UDPAddr{IP: dst, Port: hubPort}, data); err != nil {
			log.Debug().Err(err).Msg("capture failed")
		}
	}
	select {
	case target.inbox <- datagram{src: src, data: data}:
	case <-target.closed:
	default:
		log.Debug().Str("dst", dst.String()).Msg("receive queue full, datagram lost")
	}
}

// MemTransport is a Hub endpoint.
type MemTransport struct {
	hub       *Hub
	ip        net.IP
	inbox     chan datagram
	loss      *lossInjector
	closed    chan struct{}
	closeOnce sync.Once
}

func (t *MemTransport) Send(b []byte, dst net.IP) (int, error) {
	select {
	case <-t.closed:
		return 0, ErrClosed
	default:
	}
	if t.loss.drop() {
		log.Debug().Str("src", t.ip.String()).Str("dst", dst.String()).Int("size", len(b)).Msg("datagram dropped by loss simulation")
		return len(b), nil
	}
	data := make([]byte, len(b))
	copy(data, b)
	t.hub.deliver(t.ip, dst, data)
	return len(b), nil
}

func (t *MemTransport) Receive(buf []byte, timeout time.Duration) (int, net.IP, net.IP, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timer = tm.C
	}
	select {
	case d := <-t.inbox:
		n := copy(buf, d.data)
		return n, t.ip, d.src, nil
	case <-timer:
		return 0, nil, nil, errTimeout
	case <-t.closed:
		return 0, nil, nil, ErrClosed
	}
}

func (t *MemTransport) SetLossRate(percent int) {
	t.loss.setRate(percent)
}

func (t *MemTransport) LocalIP() net.IP {
	return t.ip
}

func (t *MemTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.hub.detach(t)
	})
	return nil
}
