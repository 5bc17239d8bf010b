// Command demo runs a 5-node cluster in a single process over the
// in-memory transport: it submits a couple of transfers, fails and
// recovers a node, and prints the resulting ledger and balances on every
// node so the consensus and catch-up protocols can be watched without
// standing up real TCP processes.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quorumledger/paxosledger/internal/console"
	"github.com/quorumledger/paxosledger/internal/ledger"
	"github.com/quorumledger/paxosledger/internal/node"
	"github.com/quorumledger/paxosledger/internal/storage"
	"github.com/quorumledger/paxosledger/internal/transport"
)

const clusterSize = 5

func main() {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	net := transport.NewNetwork(50 * time.Millisecond)
	ctrls := make(map[int]*node.Controller, clusterSize)
	for id := 1; id <= clusterSize; id++ {
		tr := net.AddNode(id)
		ctrl := node.New(id, ledger.New(), storage.NewMemory(), tr, log.WithField("node", id))
		ctrl.Start()
		defer ctrl.Stop()
		ctrls[id] = ctrl
	}

	fmt.Println("== submitting transfer(1->2, 30) ==")
	must(ctrls[1].SubmitTransfer(2, 30))
	waitForDepth(ctrls, 1)

	fmt.Println("== failing node 3, submitting transfer(1->4, 20) ==")
	ctrls[3].Fail()
	must(ctrls[1].SubmitTransfer(4, 20))
	waitForDepth(ctrls, 2)

	fmt.Println("== recovering node 3 (waits out the catch-up window) ==")
	ctrls[3].Recover()
	waitForDepthWithin(map[int]*node.Controller{3: ctrls[3]}, 2, node.CatchupWindow+2*time.Second)

	for id := 1; id <= clusterSize; id++ {
		fmt.Printf("\n-- node %d --\n", id)
		c := console.New(ctrls[id], os.Stdout)
		c.Root().SetArgs([]string{"ledger"})
		must(c.Root().Execute())
		c.Root().SetArgs([]string{"balances"})
		must(c.Root().Execute())
	}
}

func waitForDepth(ctrls map[int]*node.Controller, depth int) {
	waitForDepthWithin(ctrls, depth, 5*time.Second)
}

func waitForDepthWithin(ctrls map[int]*node.Controller, depth int, within time.Duration) {
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		allThere := true
		for _, ctrl := range ctrls {
			if len(ctrl.ReadLedger()) < depth {
				allThere = false
				break
			}
		}
		if allThere {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "demo:", err)
		os.Exit(1)
	}
}
