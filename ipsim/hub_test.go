package ipsim

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	hostA = net.IPv4(10, 0, 0, 1)
	hostB = net.IPv4(10, 0, 0, 2)
)

func TestHubDelivers(t *testing.T) {
	hub := NewHub()
	a, err := hub.Attach(hostA, 4)
	require.NoError(t, err)
	b, err := hub.Attach(hostB, 4)
	require.NoError(t, err)

	n, err := a.Send([]byte("hello"), hostB)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 16)
	n, local, remote, err := b.Receive(buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.True(t, local.Equal(hostB))
	assert.True(t, remote.Equal(hostA))
}

func TestHubAttachTwice(t *testing.T) {
	hub := NewHub()
	_, err := hub.Attach(hostA, 1)
	require.NoError(t, err)
	_, err = hub.Attach(hostA, 1)
	assert.Error(t, err)
}

func TestHubReceiveTimeout(t *testing.T) {
	hub := NewHub()
	a, err := hub.Attach(hostA, 1)
	require.NoError(t, err)

	_, _, _, err = a.Receive(make([]byte, 8), 10*time.Millisecond)
	assert.True(t, IsTimeout(err))
}

func TestHubFullLossDropsEverything(t *testing.T) {
	hub := NewHub()
	a, _ := hub.Attach(hostA, 4)
	b, _ := hub.Attach(hostB, 4)
	a.SetLossRate(100)

	for i := 0; i < 10; i++ {
		n, err := a.Send([]byte("x"), hostB)
		require.NoError(t, err)
		assert.Equal(t, 1, n) // lost datagrams still count as sent
	}
	_, _, _, err := b.Receive(make([]byte, 8), 10*time.Millisecond)
	assert.True(t, IsTimeout(err))
}

func TestHubUnknownDestinationIsLost(t *testing.T) {
	hub := NewHub()
	a, _ := hub.Attach(hostA, 1)
	n, err := a.Send([]byte("nobody"), hostB)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestHubClose(t *testing.T) {
	hub := NewHub()
	a, _ := hub.Attach(hostA, 1)
	require.NoError(t, a.Close())

	_, _, _, err := a.Receive(make([]byte, 8), time.Second)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = a.Send([]byte("x"), hostB)
	assert.ErrorIs(t, err, ErrClosed)

	// the address is free again
	_, err = hub.Attach(hostA, 1)
	assert.NoError(t, err)
}

func TestHubCapture(t *testing.T) {
	var out bytes.Buffer
	capture, err := NewCapture(&out)
	require.NoError(t, err)

	hub := NewHub()
	hub.SetCapture(capture)
	a, _ := hub.Attach(hostA, 4)
	_, _ = hub.Attach(hostB, 4)

	_, err = a.Send([]byte("captured"), hostB)
	require.NoError(t, err)

	r, err := pcapgo.NewReader(&out)
	require.NoError(t, err)
	data, _, err := r.ReadPacketData()
	require.NoError(t, err)

	packet := gopacket.NewPacket(data, layers.LayerTypeIPv4, gopacket.Default)
	ip, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.True(t, ok)
	assert.True(t, ip.SrcIP.Equal(hostA))
	assert.True(t, ip.DstIP.Equal(hostB))
	udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
	require.True(t, ok)
	assert.Equal(t, "captured", string(udp.Payload))
}
