package lib

import (
	"context"
	"fmt"
	"sync"
)

// Connection is one entry of the connection table. Entries are owned by the
// Registry and only read or changed under its lock.
type Connection struct {
	fd           int
	localAddr    Address
	remoteAddr   Address
	bound        bool
	ephemeral    bool          // local port was taken from the port pool
	state        State
	stateChanged chan struct{} // closed and replaced on every transition
}

// Registry is the fixed-size connection table. Descriptors are handed out in
// order and never recycled.
type Registry struct {
	mu       sync.Mutex
	conns    []*Connection
	maxConns int
}

func newRegistry(maxConns int) *Registry {
	return &Registry{
		conns:    make([]*Connection, 0, maxConns),
		maxConns: maxConns,
	}
}

func (r *Registry) allocate() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.conns) >= r.maxConns {
		return -1, ErrTooManyConnections
	}
	c := &Connection{
		fd:           len(r.conns),
		state:        Idle,
		stateChanged: make(chan struct{}),
	}
	r.conns = append(r.conns, c)
	return c.fd, nil
}

func (r *Registry) lookupLocked(fd int) (*Connection, error) {
	if fd < 0 || fd >= len(r.conns) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDescriptor, fd)
	}
	return r.conns[fd], nil
}

func (r *Registry) transitionLocked(c *Connection, st State) {
	if c.state == st {
		return
	}
	c.state = st
	close(c.stateChanged)
	c.stateChanged = make(chan struct{})
}

// bind sets the local address of fd unless another open connection owns
// the port.
func (r *Registry) bind(fd int, addr Address, ephemeral bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.lookupLocked(fd)
	if err != nil {
		return err
	}
	if c.state == Closed {
		return ErrConnectionClosed
	}
	for _, other := range r.conns {
		if other.fd != fd && other.bound && other.state != Closed && other.localAddr.Port == addr.Port {
			return fmt.Errorf("%w: port %d", ErrAddressInUse, addr.Port)
		}
	}
	c.localAddr = addr
	c.bound = true
	c.ephemeral = ephemeral
	return nil
}

func (r *Registry) portInUse(port uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if c.bound && c.state != Closed && c.localAddr.Port == port {
			return true
		}
	}
	return false
}

func (r *Registry) state(fd int) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.lookupLocked(fd)
	if err != nil {
		return Idle, err
	}
	return c.state, nil
}

// addresses returns the local and remote address of fd and whether it is bound.
func (r *Registry) addresses(fd int) (Address, Address, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.lookupLocked(fd)
	if err != nil {
		return Address{}, Address{}, false, err
	}
	return c.localAddr, c.remoteAddr, c.bound, nil
}

func (r *Registry) setState(fd int, st State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.lookupLocked(fd)
	if err != nil {
		return err
	}
	r.transitionLocked(c, st)
	return nil
}

// compareAndSetState moves fd to st only if it is currently in from.
func (r *Registry) compareAndSetState(fd int, from, st State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.lookupLocked(fd)
	if err != nil || c.state != from {
		return false
	}
	r.transitionLocked(c, st)
	return true
}

// prepareConnect records the peer of an active open and enters SynSent.
func (r *Registry) prepareConnect(fd int, remote Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.lookupLocked(fd)
	if err != nil {
		return err
	}
	switch c.state {
	case Closed:
		return ErrConnectionClosed
	case Idle:
	default:
		return fmt.Errorf("connect on a connection in state %s", c.state)
	}
	c.remoteAddr = remote
	r.transitionLocked(c, SynSent)
	return nil
}

// close marks fd closed and returns the ephemeral port to give back, if any.
func (r *Registry) close(fd int) (uint16, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.lookupLocked(fd)
	if err != nil {
		return 0, false, err
	}
	r.transitionLocked(c, Closed)
	if c.ephemeral {
		c.ephemeral = false
		c.bound = false
		return c.localAddr.Port, true, nil
	}
	return 0, false, nil
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		r.transitionLocked(c, Closed)
	}
}

// waitWhile blocks as long as fd is in state st and returns the new state.
// Only transitions of fd wake the caller.
func (r *Registry) waitWhile(ctx context.Context, fd int, st State) (State, error) {
	for {
		r.mu.Lock()
		c, err := r.lookupLocked(fd)
		if err != nil {
			r.mu.Unlock()
			return Idle, err
		}
		if c.state != st {
			current := c.state
			r.mu.Unlock()
			return current, nil
		}
		changed := c.stateChanged
		r.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// acceptSyn handles a connection request from peer for localPort. A repeated
// SYN from the peer of a WaitAck connection matches that connection again so
// the SYN-ACK can be resent. Otherwise the connection listening in WaitSyn on
// localPort takes the peer and moves to WaitAck. It returns the local address
// to answer from.
func (r *Registry) acceptSyn(localPort uint16, peer Address) (Address, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.conns {
		if c.state == WaitAck && c.localAddr.Port == localPort && c.remoteAddr.Port == peer.Port && sameIP(c.remoteAddr.IP, peer.IP) {
			return c.localAddr, true
		}
	}
	for _, c := range r.conns {
		if c.state == WaitSyn && c.localAddr.Port == localPort {
			c.remoteAddr = peer
			r.transitionLocked(c, WaitAck)
			return c.localAddr, true
		}
	}
	return Address{}, false
}

// completeHandshake moves the WaitAck connection expecting peer to Connected.
func (r *Registry) completeHandshake(peer Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.conns {
		if c.state == WaitAck && c.remoteAddr.Port == peer.Port && sameIP(c.remoteAddr.IP, peer.IP) {
			r.transitionLocked(c, Connected)
			return true
		}
	}
	return false
}

// dataTarget finds the connection a data segment for localPort from peer
// belongs to. Data from the peer of a WaitAck connection proves the final
// handshake ACK was lost, so that connection is promoted to Connected.
func (r *Registry) dataTarget(localPort uint16, peer Address) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.conns {
		if !c.bound || c.state == Closed || c.localAddr.Port != localPort {
			continue
		}
		if c.state == WaitAck && c.remoteAddr.Port == peer.Port && sameIP(c.remoteAddr.IP, peer.IP) {
			r.transitionLocked(c, Connected)
		}
		return c.fd, c.state == Connected
	}
	return -1, false
}
