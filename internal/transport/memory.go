package transport

import (
	"sync"
	"time"

	"github.com/quorumledger/paxosledger/internal/paxosmsg"
)

// Network is a shared in-memory hub connecting a set of Memory transports,
// used by tests and the in-process demo to avoid binding real sockets.
type Network struct {
	mu    sync.RWMutex
	nodes map[int]*Memory
	delay time.Duration
}

// NewNetwork returns an empty hub. delay is applied before every delivery in
// place of the real NetDelay, so tests can run the concurrent-proposer
// scenarios without waiting on wall-clock seconds.
func NewNetwork(delay time.Duration) *Network {
	return &Network{nodes: make(map[int]*Memory), delay: delay}
}

// AddNode registers id and returns its Transport handle.
func (n *Network) AddNode(id int) *Memory {
	n.mu.Lock()
	defer n.mu.Unlock()
	m := &Memory{
		selfID:  id,
		network: n,
		inbox:   make(chan Inbound, 256),
		closed:  make(chan struct{}),
	}
	n.nodes[id] = m
	return m
}

func (n *Network) deliver(target int, typ paxosmsg.Type, msg interface{}) {
	n.mu.RLock()
	dst, ok := n.nodes[target]
	n.mu.RUnlock()
	if !ok {
		return
	}
	if dst.isFailed() {
		return
	}
	select {
	case dst.inbox <- Inbound{Type: typ, Message: msg}:
	case <-dst.closed:
	}
}

// Memory is an in-memory Transport: Send/Broadcast schedule delivery after
// the Network's configured delay and drop silently if either endpoint is in
// failed mode, mirroring the TCP implementation's contract exactly.
type Memory struct {
	selfID  int
	network *Network

	mu     sync.RWMutex
	failed bool

	inbox  chan Inbound
	wg     sync.WaitGroup
	closed chan struct{}
}

func (m *Memory) isFailed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failed
}

// Send implements Transport.
func (m *Memory) Send(target int, typ paxosmsg.Type, msg interface{}) error {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(m.network.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-m.closed:
			return
		}
		if m.isFailed() {
			return
		}
		m.network.deliver(target, typ, msg)
	}()
	return nil
}

// Broadcast implements Transport.
func (m *Memory) Broadcast(typ paxosmsg.Type, msg interface{}) {
	m.network.mu.RLock()
	targets := make([]int, 0, len(m.network.nodes))
	for id := range m.network.nodes {
		if id != m.selfID {
			targets = append(targets, id)
		}
	}
	m.network.mu.RUnlock()
	for _, id := range targets {
		_ = m.Send(id, typ, msg)
	}
}

// Inbox implements Transport.
func (m *Memory) Inbox() <-chan Inbound { return m.inbox }

// SetFailed implements Transport.
func (m *Memory) SetFailed(failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = failed
}

// Close implements Transport.
func (m *Memory) Close() error {
	close(m.closed)
	m.wg.Wait()
	return nil
}
