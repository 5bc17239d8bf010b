// Package console is a thin cobra-based front end over the Node
// Controller: it parses commands, validates shape, and calls into
// node.Controller. It performs no consensus logic of its own.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quorumledger/paxosledger/internal/node"
)

// Console wires the console verbs (transfer, fail, recover, ledger,
// balances, exit) to a Controller, available both as one-shot subcommands
// and as lines read from an interactive REPL.
type Console struct {
	ctrl *node.Controller
	out  io.Writer
	root *cobra.Command
	quit bool
}

// New builds a Console bound to ctrl, writing command output to out.
func New(ctrl *node.Controller, out io.Writer) *Console {
	c := &Console{ctrl: ctrl, out: out}
	c.root = c.buildRootCmd()
	return c
}

// Root returns the cobra command tree, for wiring into a standalone binary
// as one-shot `peer transfer ...` style invocations.
func (c *Console) Root() *cobra.Command {
	return c.root
}

func (c *Console) buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "peer",
		Short:         "control this ledger node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	transferCmd := &cobra.Command{
		Use:   "transfer <dst> <amount>",
		Short: "submit a money transfer to the replicated ledger",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("transfer: dst must be an account number: %w", err)
			}
			amount, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("transfer: amount must be an integer: %w", err)
			}
			if err := c.ctrl.SubmitTransfer(dst, amount); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "transfer %d->%d proposed\n", c.ctrl.SelfID(), dst)
			return nil
		},
	}

	failCmd := &cobra.Command{
		Use:   "fail",
		Short: "simulate this process crashing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.ctrl.Fail()
			fmt.Fprintln(c.out, "node FAILED")
			return nil
		},
	}

	recoverCmd := &cobra.Command{
		Use:   "recover",
		Short: "resume after a simulated crash and catch up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.ctrl.Recover()
			fmt.Fprintln(c.out, "node RUNNING, catch-up started")
			return nil
		},
	}

	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "print the committed block chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printBlockchain(c.out, c.ctrl.ReadLedger())
			return nil
		},
	}

	balancesCmd := &cobra.Command{
		Use:   "balances",
		Short: "print every account's current balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printBalance(c.out, c.ctrl.ReadBalances())
			return nil
		},
	}

	exitCmd := &cobra.Command{
		Use:   "exit",
		Short: "leave the interactive console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.quit = true
			return nil
		},
	}

	root.AddCommand(transferCmd, failCmd, recoverCmd, ledgerCmd, balancesCmd, exitCmd)
	return root
}

// REPL reads whitespace-separated commands from in, one per line, until EOF
// or an `exit` command, writing results and errors to the Console's output
// writer.
func (c *Console) REPL(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for !c.quit && scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.root.SetArgs(strings.Fields(line))
		if err := c.root.Execute(); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}
