package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumledger/paxosledger/internal/block"
)

func mustCandidate(t *testing.T, l *Ledger, sender, receiver, amount int) block.Block {
	t.Helper()
	b, err := l.BuildCandidate(sender, receiver, amount)
	require.NoError(t, err)
	return b
}

func TestFreshLedgerStartsAtInitialBalance(t *testing.T) {
	l := New()
	assert.Equal(t, 0, l.Depth())
	assert.Equal(t, block.SentinelPrevHash, l.TipHash())
	for a := 1; a <= NumAccounts; a++ {
		assert.Equal(t, InitialBalance, l.Balance(a))
	}
}

func TestApplyUpdatesBalancesAndTip(t *testing.T) {
	l := New()
	b := mustCandidate(t, l, 1, 2, 30)

	res, err := l.Apply(b)
	require.NoError(t, err)
	assert.Equal(t, Applied, res)
	assert.Equal(t, 1, l.Depth())
	assert.Equal(t, InitialBalance-30, l.Balance(1))
	assert.Equal(t, InitialBalance+30, l.Balance(2))
	assert.Equal(t, b.Hash, l.TipHash())
}

func TestApplyIsIdempotentOnDuplicateHash(t *testing.T) {
	l := New()
	b := mustCandidate(t, l, 1, 2, 30)

	_, err := l.Apply(b)
	require.NoError(t, err)
	balBefore := l.Balances()

	res, err := l.Apply(b)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res)
	assert.Equal(t, balBefore, l.Balances())
	assert.Equal(t, 1, l.Depth())
}

func TestBuildCandidateRejectsInsufficientFunds(t *testing.T) {
	l := New()
	_, err := l.BuildCandidate(1, 2, InitialBalance+1)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestBuildCandidateRejectsSelfTransfer(t *testing.T) {
	l := New()
	_, err := l.BuildCandidate(1, 1, 10)
	assert.ErrorIs(t, err, ErrSelfTransfer)
}

func TestApplyRejectsPrevHashMismatch(t *testing.T) {
	l := New()
	b := mustCandidate(t, l, 1, 2, 10)
	b.PrevHash = "deadbeef"
	b.Hash = block.ComputeHash(b.Sender, b.Receiver, b.Amount, b.Nonce, b.PrevHash)

	_, err := l.Apply(b)
	assert.ErrorIs(t, err, ErrPrevHashMismatch)
}

func TestApplyRejectsBadHashField(t *testing.T) {
	l := New()
	b := mustCandidate(t, l, 1, 2, 10)
	b.Hash = "0000000000000000000000000000000000000000000000000000000000000000deadbeef"

	_, err := l.Apply(b)
	assert.ErrorIs(t, err, ErrBadHash)
}

func TestConservationAcrossApplies(t *testing.T) {
	l := New()
	total := func() int {
		sum := 0
		for _, v := range l.Balances() {
			sum += v
		}
		return sum
	}
	want := total()

	transfers := [][3]int{{1, 2, 10}, {2, 3, 5}, {3, 4, 20}}
	for _, tr := range transfers {
		b := mustCandidate(t, l, tr[0], tr[1], tr[2])
		_, err := l.Apply(b)
		require.NoError(t, err)
		assert.Equal(t, want, total())
	}
}

func TestValidateChainAcceptsAppliedSequence(t *testing.T) {
	l := New()
	var chain []block.Block
	for _, tr := range [][3]int{{1, 2, 10}, {3, 4, 15}} {
		b := mustCandidate(t, l, tr[0], tr[1], tr[2])
		_, err := l.Apply(b)
		require.NoError(t, err)
		chain = append(chain, b)
	}
	assert.NoError(t, ValidateChain(chain))
}

func TestValidateChainRejectsBrokenLink(t *testing.T) {
	l := New()
	b1 := mustCandidate(t, l, 1, 2, 10)
	_, err := l.Apply(b1)
	require.NoError(t, err)
	b2 := mustCandidate(t, l, 3, 4, 10)
	b2.PrevHash = block.SentinelPrevHash // wrong: should chain onto b1.Hash
	b2.Hash = block.ComputeHash(b2.Sender, b2.Receiver, b2.Amount, b2.Nonce, b2.PrevHash)

	assert.Error(t, ValidateChain([]block.Block{b1, b2}))
}

func TestReplaceRecomputesBalancesFromScratch(t *testing.T) {
	l := New()
	b := mustCandidate(t, l, 1, 2, 40)
	chain := []block.Block{b}
	require.NoError(t, ValidateChain(chain))

	l2 := New()
	l2.Replace(chain)
	assert.Equal(t, 1, l2.Depth())
	assert.Equal(t, InitialBalance-40, l2.Balance(1))
	assert.Equal(t, InitialBalance+40, l2.Balance(2))
}
