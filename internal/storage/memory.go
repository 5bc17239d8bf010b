package storage

import (
	"sync"

	"github.com/quorumledger/paxosledger/internal/block"
)

// Memory is a Store that keeps the snapshot in process memory instead of on
// disk: useful for the in-process demo and for tests that want a Store
// without an afero filesystem. Nothing survives process exit.
type Memory struct {
	mu   sync.RWMutex
	snap Snapshot
	has  bool
}

// NewMemory returns an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{}
}

// Save implements Store.
func (m *Memory) Save(snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = Snapshot{
		Chain:    append([]block.Block(nil), snap.Chain...),
		Balances: copyBalances(snap.Balances),
		NextSeq:  snap.NextSeq,
	}
	m.has = true
	return nil
}

// Load implements Store.
func (m *Memory) Load() (Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.has {
		return Snapshot{}, false, nil
	}
	return Snapshot{
		Chain:    append([]block.Block(nil), m.snap.Chain...),
		Balances: copyBalances(m.snap.Balances),
		NextSeq:  m.snap.NextSeq,
	}, true, nil
}

func copyBalances(in map[int]int) map[int]int {
	out := make(map[int]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
