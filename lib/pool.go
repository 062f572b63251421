package lib

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

// Payload is a fixed-capacity byte chunk kept in the ring pool. Delivered
// segment payloads are copied into one and stay there until Recv drains them.
type Payload struct {
	payloadBytes []byte
	length       int
}

// NewPayload is the ring pool constructor. Its single parameter is the chunk
// capacity in bytes.
func NewPayload(params ...interface{}) rp.DataInterface {
	if len(params) != 1 {
		log.Error().Int("params", len(params)).Msg("NewPayload: should be called with the buffer length only")
		return nil
	}
	bufferLength, ok := params[0].(int)
	if !ok || bufferLength <= 0 {
		log.Error().Interface("param", params[0]).Msg("NewPayload: buffer length must be a positive int")
		return nil
	}
	return &Payload{
		payloadBytes: make([]byte, bufferLength),
	}
}

func newPayloadPool(size, chunkLength int, debug bool, processTimeThreshold int) *rp.RingPool {
	rp.Debug = debug
	pool := rp.NewRingPool("MIC-TCP: ", size, NewPayload, chunkLength)
	pool.Debug = debug
	pool.ProcessTimeThreshold = time.Duration(processTimeThreshold) * time.Millisecond
	return pool
}

// SetContent sets the content of the payload
func (p *Payload) SetContent(s string) {
	p.length = copy(p.payloadBytes, s)
}

// Reset empties the payload so the chunk can be reused
func (p *Payload) Reset() {
	clear(p.payloadBytes[:p.length])
	p.length = 0
}

// PrintContent prints the content of the payload
func (p *Payload) PrintContent() {
	fmt.Println("Content:", string(p.payloadBytes[:p.length]))
}

func (p *Payload) Copy(src []byte) error {
	if len(src) > len(p.payloadBytes) {
		return fmt.Errorf("payload copy: source (%d) is longer than chunk (%d)", len(src), len(p.payloadBytes))
	}
	p.length = copy(p.payloadBytes, src)
	return nil
}

func (p *Payload) GetSlice() []byte {
	return p.payloadBytes[:p.length]
}
