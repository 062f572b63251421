package lib

import (
	"fmt"
	"math/rand"
	"sync"
)

// PortPool hands out ephemeral local ports for connections that call
// Connect without a prior Bind. Ports are kept in a shuffled ring.
type PortPool struct {
	ports           []uint16
	capacity        int
	minPort         int
	maxPort         int
	readIdx         int
	writeIdx        int
	isFull, isEmpty bool
	allocated       map[uint16]bool
	mtx             sync.Mutex
}

func newPortPool(minPort, maxPort int) *PortPool {
	capacity := maxPort - minPort + 1

	perm := rand.Perm(capacity)
	ports := make([]uint16, capacity)
	for i, v := range perm {
		ports[i] = uint16(minPort + v) // random sequence of ports from minPort to maxPort
	}

	return &PortPool{
		ports:     ports,
		capacity:  capacity,
		minPort:   minPort,
		maxPort:   maxPort,
		allocated: make(map[uint16]bool),
		isFull:    true,
	}
}

// allocatePort takes the next port from the ring, skipping ports for which
// inUse reports true. Skipped ports go back to the tail of the ring.
func (p *PortPool) allocatePort(inUse func(uint16) bool) (uint16, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	for tries := 0; tries < p.capacity; tries++ {
		if p.isEmpty {
			break
		}
		port := p.take()
		if inUse != nil && inUse(port) {
			p.put(port)
			continue
		}
		p.allocated[port] = true
		return port, nil
	}
	return 0, fmt.Errorf("port pool is exhausted")
}

// returnPort gives an allocated port back to the pool.
func (p *PortPool) returnPort(port uint16) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if int(port) < p.minPort || int(port) > p.maxPort {
		return fmt.Errorf("port %d out of range", port)
	}
	if !p.allocated[port] {
		return fmt.Errorf("port %d was not allocated from the pool", port)
	}
	if p.isFull {
		return fmt.Errorf("port pool is full")
	}
	delete(p.allocated, port)
	p.put(port)
	return nil
}

func (p *PortPool) take() uint16 {
	port := p.ports[p.readIdx]
	p.readIdx = (p.readIdx + 1) % p.capacity
	if p.readIdx == p.writeIdx {
		p.isEmpty = true
	}
	p.isFull = false
	return port
}

func (p *PortPool) put(port uint16) {
	p.ports[p.writeIdx] = port
	p.writeIdx = (p.writeIdx + 1) % p.capacity
	if p.writeIdx == p.readIdx {
		p.isFull = true
	}
	p.isEmpty = false
}
