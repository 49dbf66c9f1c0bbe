package queue

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeue_RoundTrips(t *testing.T) {
	q := New(4)
	peer := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 2152}
	ok := q.Enqueue(Packet{Data: []byte("payload"), Peer: peer})
	require.True(t, ok)

	stop := make(chan struct{})
	p, ok := q.Dequeue(stop)
	require.True(t, ok)
	assert.Equal(t, "payload", string(p.Data))
	assert.Equal(t, peer, p.Peer)
}

func TestEnqueue_ReportsFullAtCapacity(t *testing.T) {
	q := New(1)
	require.True(t, q.Enqueue(Packet{Data: []byte("a")}))
	assert.False(t, q.Enqueue(Packet{Data: []byte("b")}), "a queue at capacity must reject rather than block")
}

func TestDequeue_UnblocksOnStop(t *testing.T) {
	q := New(1)
	stop := make(chan struct{})
	done := make(chan bool, 1)

	go func() {
		_, ok := q.Dequeue(stop)
		done <- ok
	}()

	close(stop)
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not unblock after stop was closed")
	}
}

func TestLenAndCap(t *testing.T) {
	q := New(3)
	assert.Equal(t, 3, q.Cap())
	assert.Equal(t, 0, q.Len())
	q.Enqueue(Packet{Data: []byte("x")})
	assert.Equal(t, 1, q.Len())
}
