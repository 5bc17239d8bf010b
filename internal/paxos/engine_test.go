package paxos

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumledger/paxosledger/internal/block"
	"github.com/quorumledger/paxosledger/internal/paxosmsg"
	"github.com/quorumledger/paxosledger/internal/transport"
)

// fakeLedger is a minimal LedgerView double: depth/tip that advance()
// mutates, standing in for a real Ledger's post-commit state.
type fakeLedger struct {
	mu    sync.Mutex
	depth int
	tip   string
}

func (f *fakeLedger) Depth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.depth
}

func (f *fakeLedger) TipHash() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tip
}

func (f *fakeLedger) advance(tip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.depth++
	f.tip = tip
}

type cluster struct {
	net        *transport.Network
	transports map[int]*transport.Memory
	ledgers    map[int]*fakeLedger
	engines    map[int]*Engine

	mu      sync.Mutex
	commits map[int][]block.Block
}

func newCluster(t *testing.T, ids []int) *cluster {
	t.Helper()
	c := &cluster{
		net:        transport.NewNetwork(2 * time.Millisecond),
		transports: make(map[int]*transport.Memory),
		ledgers:    make(map[int]*fakeLedger),
		engines:    make(map[int]*Engine),
		commits:    make(map[int][]block.Block),
	}
	log := logrus.NewEntry(logrus.New())
	for _, id := range ids {
		id := id
		tr := c.net.AddNode(id)
		led := &fakeLedger{tip: block.SentinelPrevHash}
		commitFn := func(b block.Block) {
			c.mu.Lock()
			c.commits[id] = append(c.commits[id], b)
			c.mu.Unlock()
			led.advance(b.Hash)
		}
		eng := New(id, tr, led, commitFn, log)
		eng.SetProposalTimeout(150 * time.Millisecond)
		c.transports[id] = tr
		c.ledgers[id] = led
		c.engines[id] = eng
	}
	return c
}

// pump routes each node's transport inbox into its engine until stop closes.
func (c *cluster) pump(stop <-chan struct{}) {
	for id, eng := range c.engines {
		inbox := c.transports[id].Inbox()
		eng := eng
		go func() {
			for {
				select {
				case in := <-inbox:
					eng.OnMessage(in.Type, in.Message)
				case <-stop:
					return
				}
			}
		}()
	}
}

func (c *cluster) commitCounts() map[int]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]int, len(c.commits))
	for id, blocks := range c.commits {
		out[id] = len(blocks)
	}
	return out
}

func TestSingleProposerReachesMajorityAndCommits(t *testing.T) {
	ids := []int{1, 2, 3, 4, 5}
	c := newCluster(t, ids)
	stop := make(chan struct{})
	c.pump(stop)
	defer close(stop)

	blk, err := block.New(1, 2, 30, block.SentinelPrevHash)
	require.NoError(t, err)
	c.engines[1].Propose(blk)

	require.Eventually(t, func() bool {
		counts := c.commitCounts()
		for _, id := range ids {
			if counts[id] != 1 {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		assert.Equal(t, blk.Hash, c.commits[id][0].Hash)
	}
}

func TestConcurrentProposersConvergeOnOneValue(t *testing.T) {
	ids := []int{1, 2, 3, 4, 5}
	c := newCluster(t, ids)
	stop := make(chan struct{})
	c.pump(stop)
	defer close(stop)

	blkA, err := block.New(1, 2, 10, block.SentinelPrevHash)
	require.NoError(t, err)
	blkB, err := block.New(3, 4, 15, block.SentinelPrevHash)
	require.NoError(t, err)

	c.engines[1].Propose(blkA)
	c.engines[3].Propose(blkB)

	require.Eventually(t, func() bool {
		counts := c.commitCounts()
		for _, id := range ids {
			if counts[id] != 1 {
				return false
			}
		}
		return true
	}, 3*time.Second, 5*time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	first := c.commits[1][0].Hash
	for _, id := range ids {
		assert.Equal(t, first, c.commits[id][0].Hash, "all nodes must agree on the same chosen block")
	}
}

func TestDuplicateDecideCommitsAtMostOnce(t *testing.T) {
	ids := []int{1, 2, 3}
	c := newCluster(t, ids)
	stop := make(chan struct{})
	c.pump(stop)
	defer close(stop)

	blk, err := block.New(1, 2, 10, block.SentinelPrevHash)
	require.NoError(t, err)
	c.engines[1].Propose(blk)

	require.Eventually(t, func() bool {
		return c.commitCounts()[2] == 1
	}, 2*time.Second, 5*time.Millisecond)

	// A redundant DECIDE for an already-learned value must not commit twice.
	c.engines[2].OnMessage(paxosmsg.TypeDecide, paxosmsg.Decide{From: 1, Value: blk})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, c.commitCounts()[2])
}
