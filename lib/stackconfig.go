package lib

import (
	"fmt"
	"time"
)

// StackConfig holds the transport engine settings. Window length and
// tolerance are fixed for the lifetime of a Stack.
type StackConfig struct {
	MaxConnections       int           `yaml:"max_connections"`
	LossWindowSize       int           `yaml:"loss_window_size"`
	ToleratedLosses      int           `yaml:"tolerated_losses"`       // timed out sends tolerated within the window
	AckTimeout           time.Duration `yaml:"ack_timeout"`            // wait for a data ACK
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`        // wait for a SYN-ACK
	ConnectRetries       int           `yaml:"connect_retries"`        // SYN attempts before giving up
	LossRate             int           `yaml:"loss_rate"`              // simulated IP loss, percent
	MaxPayload           int           `yaml:"max_payload"`            // bytes per segment
	PayloadPoolSize      int           `yaml:"payload_pool_size"`      // ring pool chunks
	AppBufferSize        int           `yaml:"app_buffer_size"`        // payloads waiting for Recv
	InboxSize            int           `yaml:"inbox_size"`             // ACK/SYN-ACK segments waiting for Send/Connect
	PollInterval         time.Duration `yaml:"poll_interval"`          // delivery loop receive timeout
	ClientPortLower      int           `yaml:"client_port_lower"`      // ephemeral port range
	ClientPortUpper      int           `yaml:"client_port_upper"`      // ephemeral port range
	PoolDebug            bool          `yaml:"pool_debug"`             // ring pool debug setting
	ProcessTimeThreshold int           `yaml:"process_time_threshold"` // ring pool chunk processing threshold, ms
}

func DefaultStackConfig() *StackConfig {
	return &StackConfig{
		MaxConnections:       5,
		LossWindowSize:       10,
		ToleratedLosses:      2,
		AckTimeout:           10 * time.Millisecond,
		ConnectTimeout:       10 * time.Millisecond,
		ConnectRetries:       20,
		LossRate:             10,
		MaxPayload:           1440,
		PayloadPoolSize:      2000,
		AppBufferSize:        256,
		InboxSize:            64,
		PollInterval:         100 * time.Millisecond,
		ClientPortLower:      32768,
		ClientPortUpper:      60999,
		ProcessTimeThreshold: 10,
	}
}

func (c *StackConfig) Validate() error {
	switch {
	case c.MaxConnections <= 0:
		return fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections)
	case c.LossWindowSize <= 0:
		return fmt.Errorf("loss_window_size must be positive, got %d", c.LossWindowSize)
	case c.ToleratedLosses < 0:
		return fmt.Errorf("tolerated_losses must not be negative, got %d", c.ToleratedLosses)
	case c.AckTimeout <= 0 || c.ConnectTimeout <= 0 || c.PollInterval <= 0:
		return fmt.Errorf("ack_timeout, connect_timeout and poll_interval must be positive")
	case c.ConnectRetries <= 0:
		return fmt.Errorf("connect_retries must be positive, got %d", c.ConnectRetries)
	case c.LossRate < 0 || c.LossRate > 100:
		return fmt.Errorf("loss_rate must be within 0-100, got %d", c.LossRate)
	case c.MaxPayload <= 0 || c.MaxPayload > MaxDatagramSize-SegmentHeaderLength:
		return fmt.Errorf("max_payload must be within 1-%d, got %d", MaxDatagramSize-SegmentHeaderLength, c.MaxPayload)
	case c.AppBufferSize <= 0 || c.InboxSize <= 0:
		return fmt.Errorf("app_buffer_size and inbox_size must be positive")
	case c.PayloadPoolSize <= c.AppBufferSize:
		return fmt.Errorf("payload_pool_size (%d) must exceed app_buffer_size (%d)", c.PayloadPoolSize, c.AppBufferSize)
	case c.ClientPortLower <= 0 || c.ClientPortUpper > 65535 || c.ClientPortLower > c.ClientPortUpper:
		return fmt.Errorf("invalid client port range %d-%d", c.ClientPortLower, c.ClientPortUpper)
	}
	return nil
}
