package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/brifl/ziptag/pkg/errs"
	"github.com/brifl/ziptag/pkg/graph"
)

const manifestName = "MANIFEST"

// Manifest records the durable checkpoint: the revision of the latest
// snapshot on disk (0 if none yet) and the WAL segment sequence that
// should receive the next append.
type Manifest struct {
	SnapshotRev  graph.Rev
	SnapshotFile string
	WALSeq       uint64
}

// ReadManifest loads dir/MANIFEST. A missing file is not an error: it
// means a fresh data directory, reported as the zero Manifest with
// WALSeq 1.
func ReadManifest(dir string) (Manifest, error) {
	path := filepath.Join(dir, manifestName)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Manifest{WALSeq: 1}, nil
	}
	if err != nil {
		return Manifest{}, &errs.DurabilityIOFailed{Cause: err}
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) < 3 {
		return Manifest{}, &errs.DurabilityCorrupt{Offset: 0}
	}
	rev, err1 := strconv.ParseUint(lines[0], 10, 64)
	seq, err2 := strconv.ParseUint(lines[2], 10, 64)
	if err1 != nil || err2 != nil {
		return Manifest{}, &errs.DurabilityCorrupt{Offset: 0}
	}
	return Manifest{SnapshotRev: rev, SnapshotFile: lines[1], WALSeq: seq}, nil
}

// WriteManifest atomically rewrites dir/MANIFEST via temp-file-then-rename,
// the same durability discipline as WriteSnapshot.
func WriteManifest(dir string, m Manifest) error {
	path := filepath.Join(dir, manifestName)
	tmp := path + ".tmp"
	body := fmt.Sprintf("%d\n%s\n%d\n", m.SnapshotRev, m.SnapshotFile, m.WALSeq)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return &errs.DurabilityIOFailed{Cause: err}
	}
	if _, err := f.WriteString(body); err != nil {
		f.Close()
		return &errs.DurabilityIOFailed{Cause: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &errs.DurabilityIOFailed{Cause: err}
	}
	if err := f.Close(); err != nil {
		return &errs.DurabilityIOFailed{Cause: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &errs.DurabilityIOFailed{Cause: err}
	}
	return nil
}
