package lib

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	serverAddr = Address{IP: net.ParseIP("10.0.0.1"), Port: 9000}
	clientAddr = Address{IP: net.ParseIP("10.0.0.2"), Port: 40000}
)

func TestRegistryAllocate(t *testing.T) {
	r := newRegistry(2)
	fd, err := r.allocate()
	require.NoError(t, err)
	assert.Equal(t, 0, fd)
	fd, err = r.allocate()
	require.NoError(t, err)
	assert.Equal(t, 1, fd)

	_, err = r.allocate()
	assert.ErrorIs(t, err, ErrTooManyConnections)

	st, err := r.state(1)
	require.NoError(t, err)
	assert.Equal(t, Idle, st)

	_, err = r.state(2)
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
	_, err = r.state(-1)
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestRegistryBind(t *testing.T) {
	r := newRegistry(3)
	a, _ := r.allocate()
	b, _ := r.allocate()

	require.NoError(t, r.bind(a, serverAddr, false))
	assert.True(t, r.portInUse(serverAddr.Port))
	assert.ErrorIs(t, r.bind(b, serverAddr, false), ErrAddressInUse)

	// rebinding the same descriptor is allowed
	require.NoError(t, r.bind(a, Address{IP: serverAddr.IP, Port: 9001}, false))
	assert.False(t, r.portInUse(serverAddr.Port))

	require.NoError(t, r.setState(b, Closed))
	assert.ErrorIs(t, r.bind(b, serverAddr, false), ErrConnectionClosed)
	assert.ErrorIs(t, r.bind(7, serverAddr, false), ErrInvalidDescriptor)
}

func TestRegistryPassiveHandshake(t *testing.T) {
	r := newRegistry(2)
	fd, _ := r.allocate()
	require.NoError(t, r.bind(fd, serverAddr, false))

	_, ok := r.acceptSyn(serverAddr.Port, clientAddr)
	assert.False(t, ok, "SYN without a listener")

	require.True(t, r.compareAndSetState(fd, Idle, WaitSyn))
	_, ok = r.acceptSyn(9999, clientAddr)
	assert.False(t, ok, "SYN for another port")

	local, ok := r.acceptSyn(serverAddr.Port, clientAddr)
	require.True(t, ok)
	assert.Equal(t, serverAddr.Port, local.Port)
	st, _ := r.state(fd)
	assert.Equal(t, WaitAck, st)

	// repeated SYN from the same peer matches again
	_, ok = r.acceptSyn(serverAddr.Port, clientAddr)
	assert.True(t, ok)
	st, _ = r.state(fd)
	assert.Equal(t, WaitAck, st)

	other := Address{IP: net.ParseIP("10.0.0.3"), Port: 40000}
	assert.False(t, r.completeHandshake(other))
	assert.True(t, r.completeHandshake(clientAddr))
	st, _ = r.state(fd)
	assert.Equal(t, Connected, st)
	assert.False(t, r.completeHandshake(clientAddr))

	_, remote, bound, err := r.addresses(fd)
	require.NoError(t, err)
	assert.True(t, bound)
	assert.Equal(t, clientAddr.Port, remote.Port)
}

func TestRegistryDataTarget(t *testing.T) {
	r := newRegistry(2)
	fd, _ := r.allocate()
	require.NoError(t, r.bind(fd, serverAddr, false))

	_, ok := r.dataTarget(1234, clientAddr)
	assert.False(t, ok)
	got, ok := r.dataTarget(serverAddr.Port, clientAddr)
	assert.Equal(t, fd, got)
	assert.False(t, ok, "idle connection does not take data")

	require.True(t, r.compareAndSetState(fd, Idle, WaitSyn))
	_, ok = r.acceptSyn(serverAddr.Port, clientAddr)
	require.True(t, ok)

	// data from the peer stands in for a lost final ACK
	got, ok = r.dataTarget(serverAddr.Port, clientAddr)
	assert.Equal(t, fd, got)
	assert.True(t, ok)
	st, _ := r.state(fd)
	assert.Equal(t, Connected, st)
}

func TestRegistryPrepareConnect(t *testing.T) {
	r := newRegistry(2)
	fd, _ := r.allocate()
	require.NoError(t, r.prepareConnect(fd, serverAddr))
	st, _ := r.state(fd)
	assert.Equal(t, SynSent, st)
	assert.Error(t, r.prepareConnect(fd, serverAddr))

	require.NoError(t, r.setState(fd, Closed))
	assert.ErrorIs(t, r.prepareConnect(fd, serverAddr), ErrConnectionClosed)
}

func TestRegistryCloseReturnsEphemeralPort(t *testing.T) {
	r := newRegistry(2)
	fd, _ := r.allocate()
	require.NoError(t, r.bind(fd, clientAddr, true))

	port, ephemeral, err := r.close(fd)
	require.NoError(t, err)
	assert.True(t, ephemeral)
	assert.Equal(t, clientAddr.Port, port)

	_, ephemeral, err = r.close(fd)
	require.NoError(t, err)
	assert.False(t, ephemeral, "port is only handed back once")
	st, _ := r.state(fd)
	assert.Equal(t, Closed, st)
}

func TestRegistryWaitWhile(t *testing.T) {
	r := newRegistry(2)
	a, _ := r.allocate()
	b, _ := r.allocate()
	require.True(t, r.compareAndSetState(a, Idle, WaitSyn))

	done := make(chan State, 1)
	go func() {
		st, err := r.waitWhile(context.Background(), a, WaitSyn)
		assert.NoError(t, err)
		done <- st
	}()

	// transitions of another descriptor do not wake the waiter
	require.NoError(t, r.setState(b, Connected))
	select {
	case st := <-done:
		t.Fatalf("waiter woke up early in state %s", st)
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, r.setState(a, WaitAck))
	select {
	case st := <-done:
		assert.Equal(t, WaitAck, st)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.waitWhile(ctx, a, WaitAck)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistryCloseAllWakesWaiters(t *testing.T) {
	r := newRegistry(1)
	fd, _ := r.allocate()
	require.True(t, r.compareAndSetState(fd, Idle, WaitSyn))

	done := make(chan State, 1)
	go func() {
		st, _ := r.waitWhile(context.Background(), fd, WaitSyn)
		done <- st
	}()
	r.closeAll()

	select {
	case st := <-done:
		assert.Equal(t, Closed, st)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestResolveAddress(t *testing.T) {
	addr, err := ResolveAddress("127.0.0.1:8901")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8901", addr.String())

	_, err = ResolveAddress("127.0.0.1")
	assert.Error(t, err)
	_, err = ResolveAddress("127.0.0.1:0")
	assert.Error(t, err)
}
