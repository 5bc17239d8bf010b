// Package storage persists each node's ledger snapshot atomically: the
// whole chain and balance table, written write-temp-then-rename so a crash
// mid-write never leaves a partial snapshot observable.
package storage

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/quorumledger/paxosledger/internal/block"
)

// Snapshot is the full persisted state of one node.
type Snapshot struct {
	Chain    []block.Block  `json:"chain"`
	Balances map[int]int    `json:"balances"`
	NextSeq  int            `json:"next_seq"`
}

// ErrCorruptSnapshot wraps a failure to decode an on-disk snapshot.
var ErrCorruptSnapshot = errors.New("storage: snapshot file is not valid JSON")

// Store is the persistence contract used by the Node Controller. There is
// no incremental log: Save always writes the whole snapshot, which is cheap
// because it is bounded by the ledger's size (one block per transfer).
type Store interface {
	// Save durably and atomically writes snap, replacing whatever snapshot
	// existed before.
	Save(snap Snapshot) error
	// Load returns the last successfully saved snapshot, or ok=false if
	// none exists yet.
	Load() (snap Snapshot, ok bool, err error)
}

// File is a Store backed by an afero.Fs, so production code uses the real
// filesystem (afero.OsFs) while tests substitute afero.NewMemMapFs()
// without touching disk.
type File struct {
	fs       afero.Fs
	path     string
	tmpPath  string
}

// NewFile returns a File-backed Store writing to path on fs.
func NewFile(fs afero.Fs, path string) *File {
	return &File{fs: fs, path: path, tmpPath: path + ".tmp"}
}

// Save implements Store.
func (f *File) Save(snap Snapshot) error {
	if snap.Balances == nil {
		snap.Balances = map[int]int{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "storage: marshal snapshot")
	}
	if err := afero.WriteFile(f.fs, f.tmpPath, data, 0o600); err != nil {
		return errors.Wrap(err, "storage: write temp snapshot")
	}
	if err := f.fs.Rename(f.tmpPath, f.path); err != nil {
		return errors.Wrap(err, "storage: rename snapshot into place")
	}
	return nil
}

// Load implements Store.
func (f *File) Load() (Snapshot, bool, error) {
	data, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		if errors.Is(err, afero.ErrFileNotFound) {
			return Snapshot{}, false, nil
		}
		// afero's OsFs wraps *os.PathError rather than its own sentinel on
		// some backends; fall back to a not-exist check for compatibility.
		if isNotExist(err) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, errors.Wrap(err, "storage: read snapshot")
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, errors.Wrap(ErrCorruptSnapshot, err.Error())
	}
	return snap, true, nil
}
