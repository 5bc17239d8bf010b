package console

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumledger/paxosledger/internal/ledger"
	"github.com/quorumledger/paxosledger/internal/node"
	"github.com/quorumledger/paxosledger/internal/storage"
	"github.com/quorumledger/paxosledger/internal/transport"
)

func newTestConsole(t *testing.T) (*Console, *bytes.Buffer) {
	t.Helper()
	net := transport.NewNetwork(time.Millisecond)
	tr := net.AddNode(1)
	ctrl := node.New(1, ledger.New(), storage.NewMemory(), tr, logrus.NewEntry(logrus.New()))
	ctrl.Start()
	t.Cleanup(ctrl.Stop)

	var buf bytes.Buffer
	return New(ctrl, &buf), &buf
}

func TestTransferCommandProposes(t *testing.T) {
	c, buf := newTestConsole(t)
	c.Root().SetArgs([]string{"transfer", "2", "30"})
	require.NoError(t, c.Root().Execute())
	assert.Contains(t, buf.String(), "proposed")
}

func TestTransferCommandRejectsBadAmount(t *testing.T) {
	c, _ := newTestConsole(t)
	c.Root().SetArgs([]string{"transfer", "2", "not-a-number"})
	assert.Error(t, c.Root().Execute())
}

func TestBalancesCommandPrintsTable(t *testing.T) {
	c, buf := newTestConsole(t)
	c.Root().SetArgs([]string{"balances"})
	require.NoError(t, c.Root().Execute())
	assert.Contains(t, buf.String(), "ACCOUNT")
	assert.Contains(t, buf.String(), "100")
}

func TestLedgerCommandPrintsHeaderOnEmptyChain(t *testing.T) {
	c, buf := newTestConsole(t)
	c.Root().SetArgs([]string{"ledger"})
	require.NoError(t, c.Root().Execute())
	assert.Contains(t, buf.String(), "DEPTH")
}

func TestFailThenRecoverViaREPL(t *testing.T) {
	c, buf := newTestConsole(t)
	input := strings.NewReader("fail\nrecover\nexit\n")
	require.NoError(t, c.REPL(input))
	out := buf.String()
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "RUNNING")
}
