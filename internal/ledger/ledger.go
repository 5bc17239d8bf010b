// Package ledger holds the chained sequence of blocks and the balance table
// derived from them. It is the sole authority on whether a block applies.
package ledger

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/quorumledger/paxosledger/internal/block"
)

// InitialBalance is the starting balance of every account.
const InitialBalance = 100

// NumAccounts is the fixed number of peer accounts, N in spec terms.
const NumAccounts = 5

// Sentinel errors surfaced by BuildCandidate and Apply.
var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrSelfTransfer      = errors.New("ledger: sender equals receiver")
	ErrNonPositiveAmount = errors.New("ledger: amount must be positive")
	ErrPrevHashMismatch  = errors.New("ledger: prev_hash does not match tip")
	ErrBadPowTag         = errors.New("ledger: proof-of-work tag not satisfied")
	ErrBadHash           = errors.New("ledger: hash field does not match recomputed digest")
)

// ApplyResult classifies the outcome of Apply.
type ApplyResult int

const (
	// Applied means the block was appended and balances updated.
	Applied ApplyResult = iota
	// Duplicate means the block's hash was already present; idempotent no-op.
	Duplicate
)

// Ledger holds B[0..L) plus the derived balance table. All mutation funnels
// through Apply; Replace swaps in an entirely new chain built off to the
// side (used by catch-up).
type Ledger struct {
	mu      sync.RWMutex
	chain   []block.Block
	hashes  map[string]struct{}
	balance map[int]int
}

// New returns a fresh ledger: no blocks, every account at InitialBalance.
func New() *Ledger {
	return &Ledger{
		chain:   nil,
		hashes:  make(map[string]struct{}),
		balance: initialBalances(),
	}
}

func initialBalances() map[int]int {
	bal := make(map[int]int, NumAccounts)
	for a := 1; a <= NumAccounts; a++ {
		bal[a] = InitialBalance
	}
	return bal
}

// TipHash returns the hash of the last block, or block.SentinelPrevHash if
// the ledger is empty.
func (l *Ledger) TipHash() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tipHashLocked()
}

func (l *Ledger) tipHashLocked() string {
	if len(l.chain) == 0 {
		return block.SentinelPrevHash
	}
	return l.chain[len(l.chain)-1].Hash
}

// Depth returns L, the number of committed blocks.
func (l *Ledger) Depth() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

// Balance returns bal[account].
func (l *Ledger) Balance(account int) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance[account]
}

// Balances returns a defensive copy of the full balance table.
func (l *Ledger) Balances() map[int]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[int]int, len(l.balance))
	for k, v := range l.balance {
		out[k] = v
	}
	return out
}

// Chain returns a defensive copy of the committed block sequence.
func (l *Ledger) Chain() []block.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]block.Block, len(l.chain))
	copy(out, l.chain)
	return out
}

// BuildCandidate verifies solvency and searches for a PoW-tagged nonce,
// returning a block chained onto the current tip. It has no side effects on
// ledger state: this is the only place nonces are searched.
func (l *Ledger) BuildCandidate(sender, receiver, amount int) (block.Block, error) {
	if sender == receiver {
		return block.Block{}, ErrSelfTransfer
	}
	if amount <= 0 {
		return block.Block{}, ErrNonPositiveAmount
	}
	l.mu.RLock()
	bal := l.balance[sender]
	tip := l.tipHashLocked()
	l.mu.RUnlock()

	if bal < amount {
		return block.Block{}, ErrInsufficientFunds
	}
	return block.New(sender, receiver, amount, tip)
}

// Apply validates and, if valid, appends blk and updates balances. It is the
// only mutator of chain/balance state and is idempotent: applying an
// already-committed block's hash a second time returns Duplicate without
// touching state.
func (l *Ledger) Apply(blk block.Block) (ApplyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.hashes[blk.Hash]; ok {
		return Duplicate, nil
	}
	if err := l.validateLocked(blk); err != nil {
		return 0, err
	}

	l.chain = append(l.chain, blk)
	l.hashes[blk.Hash] = struct{}{}
	l.balance[blk.Sender] -= blk.Amount
	l.balance[blk.Receiver] += blk.Amount
	return Applied, nil
}

func (l *Ledger) validateLocked(blk block.Block) error {
	if blk.Sender == blk.Receiver {
		return ErrSelfTransfer
	}
	if blk.Amount <= 0 {
		return ErrNonPositiveAmount
	}
	if blk.PrevHash != l.tipHashLocked() {
		return ErrPrevHashMismatch
	}
	if !block.PowTagSatisfied(blk.Sender, blk.Receiver, blk.Amount, blk.Nonce) {
		return ErrBadPowTag
	}
	want := block.ComputeHash(blk.Sender, blk.Receiver, blk.Amount, blk.Nonce, blk.PrevHash)
	if want != blk.Hash {
		return ErrBadHash
	}
	if l.balance[blk.Sender] < blk.Amount {
		return ErrInsufficientFunds
	}
	return nil
}

// Replace swaps in chain as the ledger's entire committed history, recomputing
// balances from InitialBalance. The caller (catch-up) must have already
// validated chain via ValidateChain; Replace does not re-validate.
func (l *Ledger) Replace(chain []block.Block) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chain = append([]block.Block(nil), chain...)
	l.hashes = make(map[string]struct{}, len(chain))
	l.balance = initialBalances()
	for _, blk := range l.chain {
		l.hashes[blk.Hash] = struct{}{}
		l.balance[blk.Sender] -= blk.Amount
		l.balance[blk.Receiver] += blk.Amount
	}
}

// ValidateChain replays chain from depth 0 against a fresh balance table and
// reports whether every block applies cleanly: prev-hash linkage, PoW tag,
// recomputed hash, and sender solvency at that point in the replay. It has
// no side effects on any Ledger.
func ValidateChain(chain []block.Block) error {
	bal := initialBalances()
	prev := block.SentinelPrevHash
	seen := make(map[string]struct{}, len(chain))
	for i, blk := range chain {
		if _, dup := seen[blk.Hash]; dup {
			return errors.Errorf("ledger: duplicate hash at depth %d", i)
		}
		if blk.Sender == blk.Receiver {
			return errors.Wrapf(ErrSelfTransfer, "depth %d", i)
		}
		if blk.Amount <= 0 {
			return errors.Wrapf(ErrNonPositiveAmount, "depth %d", i)
		}
		if blk.PrevHash != prev {
			return errors.Wrapf(ErrPrevHashMismatch, "depth %d", i)
		}
		if !block.PowTagSatisfied(blk.Sender, blk.Receiver, blk.Amount, blk.Nonce) {
			return errors.Wrapf(ErrBadPowTag, "depth %d", i)
		}
		want := block.ComputeHash(blk.Sender, blk.Receiver, blk.Amount, blk.Nonce, blk.PrevHash)
		if want != blk.Hash {
			return errors.Wrapf(ErrBadHash, "depth %d", i)
		}
		if bal[blk.Sender] < blk.Amount {
			return errors.Wrapf(ErrInsufficientFunds, "depth %d", i)
		}
		bal[blk.Sender] -= blk.Amount
		bal[blk.Receiver] += blk.Amount
		seen[blk.Hash] = struct{}{}
		prev = blk.Hash
	}
	return nil
}
