package console

import (
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"

	"github.com/quorumledger/paxosledger/internal/block"
)

// printBlockchain renders chain as an aligned table: depth, sender,
// receiver, amount, nonce, hash and prev_hash (both truncated for
// readability).
func printBlockchain(out io.Writer, chain []block.Block) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"depth", "sender", "receiver", "amount", "nonce", "hash", "prev_hash"})
	for i, blk := range chain {
		table.Append([]string{
			fmt.Sprintf("%d", i),
			fmt.Sprintf("%d", blk.Sender),
			fmt.Sprintf("%d", blk.Receiver),
			fmt.Sprintf("%d", blk.Amount),
			blk.Nonce,
			shortHash(blk.Hash),
			shortHash(blk.PrevHash),
		})
	}
	table.Render()
}

// printBalance renders the balance table, accounts in ascending order.
func printBalance(out io.Writer, balances map[int]int) {
	ids := make([]int, 0, len(balances))
	for id := range balances {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"account", "balance"})
	for _, id := range ids {
		table.Append([]string{fmt.Sprintf("%d", id), fmt.Sprintf("%d", balances[id])})
	}
	table.Render()
}

func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:8] + "…" + h[len(h)-4:]
}
