package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumledger/paxosledger/internal/paxosmsg"
)

func waitInbox(t *testing.T, m *Memory, timeout time.Duration) (Inbound, bool) {
	t.Helper()
	select {
	case in := <-m.Inbox():
		return in, true
	case <-time.After(timeout):
		return Inbound{}, false
	}
}

func TestMemorySendDeliversAfterDelay(t *testing.T) {
	net := NewNetwork(10 * time.Millisecond)
	a := net.AddNode(1)
	b := net.AddNode(2)
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Send(2, paxosmsg.TypePrepare, paxosmsg.Prepare{From: 1}))

	_, ok := waitInbox(t, b, 5*time.Millisecond)
	assert.False(t, ok, "message should not arrive before the configured delay")

	in, ok := waitInbox(t, b, 50*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, paxosmsg.TypePrepare, in.Type)
}

func TestMemoryBroadcastReachesAllButSelf(t *testing.T) {
	net := NewNetwork(time.Millisecond)
	nodes := make(map[int]*Memory)
	for i := 1; i <= 5; i++ {
		nodes[i] = net.AddNode(i)
		defer nodes[i].Close()
	}

	nodes[1].Broadcast(paxosmsg.TypePrepare, paxosmsg.Prepare{From: 1})

	for i := 2; i <= 5; i++ {
		_, ok := waitInbox(t, nodes[i], 50*time.Millisecond)
		assert.True(t, ok, "node %d should receive the broadcast", i)
	}
	_, ok := waitInbox(t, nodes[1], 10*time.Millisecond)
	assert.False(t, ok, "sender should not receive its own broadcast")
}

func TestFailedModeDropsInboundAndOutbound(t *testing.T) {
	net := NewNetwork(time.Millisecond)
	a := net.AddNode(1)
	b := net.AddNode(2)
	defer a.Close()
	defer b.Close()

	b.SetFailed(true)
	require.NoError(t, a.Send(2, paxosmsg.TypePrepare, paxosmsg.Prepare{From: 1}))
	_, ok := waitInbox(t, b, 20*time.Millisecond)
	assert.False(t, ok, "failed node should not receive messages")

	b.SetFailed(false)
	a.SetFailed(true)
	require.NoError(t, a.Send(2, paxosmsg.TypePrepare, paxosmsg.Prepare{From: 1}))
	_, ok = waitInbox(t, b, 20*time.Millisecond)
	assert.False(t, ok, "a failed sender should not deliver messages")
}
