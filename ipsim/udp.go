package ipsim

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// UDPTransport carries datagrams over UDP. A server listens on ServerPort
// and sends to ClientPort, a client does the opposite, so the simulated IP
// address of a peer is simply the host it runs on.
type UDPTransport struct {
	mode      Mode
	conn      *net.UDPConn
	localAddr *net.UDPAddr
	peerPort  int
	loss      *lossInjector
	capture   *Capture
	closeOnce sync.Once
}

func NewUDP(mode Mode, cfg *Config) (*UDPTransport, error) {
	listenPort, peerPort := cfg.ClientPort, cfg.ServerPort
	if mode == Server {
		listenPort, peerPort = cfg.ServerPort, cfg.ClientPort
	}

	ip := net.ParseIP(cfg.ListenIP)
	if ip == nil {
		return nil, fmt.Errorf("invalid listen IP %q", cfg.ListenIP)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip, Port: listenPort})
	if err != nil {
		return nil, err
	}

	t := &UDPTransport{
		mode:      mode,
		conn:      conn,
		localAddr: conn.LocalAddr().(*net.UDPAddr),
		peerPort:  peerPort,
		loss:      newLossInjector(),
	}

	if cfg.CaptureFile != "" {
		t.capture, err = CreateCapture(cfg.CaptureFile)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create capture file: %w", err)
		}
	}

	log.Info().Str("mode", mode.String()).Str("listen", t.localAddr.String()).Int("peerPort", peerPort).Msg("UDP transport started")
	return t, nil
}

func (t *UDPTransport) Send(b []byte, dst net.IP) (int, error) {
	dstAddr := &net.UDPAddr{IP: dst, Port: t.peerPort}
	if t.loss.drop() {
		log.Debug().Str("dst", dstAddr.String()).Int("size", len(b)).Msg("datagram dropped by loss simulation")
		return len(b), nil
	}
	n, err := t.conn.WriteToUDP(b, dstAddr)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return 0, ErrClosed
		}
		return 0, err
	}
	t.record(t.localAddr, dstAddr, b[:n])
	return n, nil
}

func (t *UDPTransport) Receive(buf []byte, timeout time.Duration) (int, net.IP, net.IP, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return 0, nil, nil, ErrClosed
		}
		return 0, nil, nil, err
	}

	n, src, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		var ne net.Error
		switch {
		case errors.As(err, &ne) && ne.Timeout():
			return 0, nil, nil, errTimeout
		case errors.Is(err, net.ErrClosed):
			return 0, nil, nil, ErrClosed
		}
		return 0, nil, nil, err
	}
	t.record(src, t.localAddr, buf[:n])
	return n, t.localAddr.IP, src.IP, nil
}

func (t *UDPTransport) SetLossRate(percent int) {
	t.loss.setRate(percent)
	log.Info().Int("percent", percent).Msg("loss rate set")
}

func (t *UDPTransport) LocalIP() net.IP {
	return t.localAddr.IP
}

func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
		if t.capture != nil {
			if cerr := t.capture.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}

func (t *UDPTransport) record(src, dst *net.UDPAddr, b []byte) {
	if t.capture == nil {
		return
	}
	if err := t.capture.Record(src, dst, b); err != nil {
		log.Debug().Err(err).Msg("capture failed")
	}
}
