package ipsim

import (
	"math/rand"
	"sync"
	"time"
)

// lossInjector decides which outgoing datagrams the network loses.
type lossInjector struct {
	mu   sync.Mutex
	rate float64 // 0.0-1.0
	rng  *rand.Rand
}

func newLossInjector() *lossInjector {
	return &lossInjector{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (l *lossInjector) setRate(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	l.mu.Lock()
	l.rate = float64(percent) / 100
	l.mu.Unlock()
}

func (l *lossInjector) drop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rate <= 0 {
		return false
	}
	return l.rng.Float64() < l.rate
}
