package ipsim

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestUDPRoundTrip(t *testing.T) {
	cfg := &Config{ListenIP: "127.0.0.1", ServerPort: freeUDPPort(t), ClientPort: freeUDPPort(t)}

	server, err := NewUDP(Server, cfg)
	require.NoError(t, err)
	defer server.Close()
	client, err := NewUDP(Client, cfg)
	require.NoError(t, err)
	defer client.Close()

	loopback := net.IPv4(127, 0, 0, 1)
	_, err = client.Send([]byte("ping"), loopback)
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, _, remote, err := server.Receive(buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
	assert.True(t, remote.Equal(loopback))

	_, err = server.Send([]byte("pong"), remote)
	require.NoError(t, err)
	n, _, _, err = client.Receive(buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))
}

func TestUDPReceiveTimeoutAndClose(t *testing.T) {
	cfg := &Config{ListenIP: "127.0.0.1", ServerPort: freeUDPPort(t), ClientPort: freeUDPPort(t)}
	server, err := NewUDP(Server, cfg)
	require.NoError(t, err)

	_, _, _, err = server.Receive(make([]byte, 8), 10*time.Millisecond)
	assert.True(t, IsTimeout(err))

	require.NoError(t, server.Close())
	_, _, _, err = server.Receive(make([]byte, 8), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestUDPInvalidListenIP(t *testing.T) {
	_, err := NewUDP(Server, &Config{ListenIP: "not-an-ip"})
	assert.Error(t, err)
}
