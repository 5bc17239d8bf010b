// Command peer runs one node of the replicated ledger: it loads its peer
// configuration, opens a TCP listener, wires the ledger, persistence, and
// Paxos engine behind a Node Controller, and drops the operator into an
// interactive console.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/quorumledger/paxosledger/internal/config"
	"github.com/quorumledger/paxosledger/internal/console"
	"github.com/quorumledger/paxosledger/internal/ledger"
	"github.com/quorumledger/paxosledger/internal/node"
	"github.com/quorumledger/paxosledger/internal/storage"
	"github.com/quorumledger/paxosledger/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("usage: peer <config.yaml>")
	}
	cfg, err := config.Load(os.Args[1])
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := log.WithField("node", cfg.SelfID)

	peers := make(map[int]transport.PeerAddr, len(cfg.Peers))
	for id, p := range cfg.Peers {
		peers[id] = transport.PeerAddr{Host: p.Host, Port: p.Port}
	}
	tr, err := transport.NewTCP(cfg.SelfID, peers, entry)
	if err != nil {
		return err
	}
	defer tr.Close()

	fs := afero.NewOsFs()
	if err := fs.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	snapPath := fmt.Sprintf("%s/snapshot-%d.json", cfg.DataDir, cfg.SelfID)
	store := storage.NewFile(fs, snapPath)

	ctrl := node.New(cfg.SelfID, ledger.New(), store, tr, entry)
	if err := ctrl.LoadSnapshot(); err != nil {
		return err
	}
	ctrl.Start()
	defer ctrl.Stop()

	entry.Info("node started")
	c := console.New(ctrl, os.Stdout)
	return c.REPL(os.Stdin)
}
