package wal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brifl/ziptag/pkg/errs"
	"github.com/brifl/ziptag/pkg/obs"
)

// SyncPolicy controls when a commit's TXCOMMIT record becomes durable.
type SyncPolicy struct {
	// FlushInterval is how often the background flusher fsyncs the tail
	// of the log. 0 means every Append fsyncs synchronously before
	// returning (spec: flush_interval_ms=0).
	FlushInterval time.Duration
}

// Log is the append-only write-ahead log for one ZipTag data directory.
// Appends happen under the caller's writer lock (spec §5); Log adds its
// own internal mutex only to serialize against its background flusher.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	policy SyncPolicy

	closed     atomic.Bool
	stopFlush  chan struct{}
	flushDone  chan struct{}
	bytesSince atomic.Int64

	segmentPath string
	obs         *obs.Instruments
}

// maxSegmentBytes is the size threshold for a forced sync: AppendTx fsyncs
// once this many bytes have been appended since its previous size-triggered
// sync, whatever the FlushInterval. Segments are not rotated.
const maxSegmentBytes = 64 << 20

// Open opens (or creates) the WAL segment at dir/wal-<seq>.log for
// appending and starts the background flusher if FlushInterval > 0.
// instruments may be nil, in which case flush latency goes unrecorded.
func Open(dir string, seq uint64, policy SyncPolicy, instruments *obs.Instruments) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &errs.DurabilityIOFailed{Cause: err}
	}
	path := filepath.Join(dir, segmentName(seq))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &errs.DurabilityIOFailed{Cause: err}
	}
	l := &Log{
		file:        f,
		writer:      bufio.NewWriterSize(f, 64*1024),
		policy:      policy,
		stopFlush:   make(chan struct{}),
		flushDone:   make(chan struct{}),
		segmentPath: path,
		obs:         instruments,
	}
	if policy.FlushInterval > 0 {
		go l.flushLoop()
	} else {
		close(l.flushDone)
	}
	return l, nil
}

func segmentName(seq uint64) string { return fmt.Sprintf("wal-%06d.log", seq) }

func (l *Log) flushLoop() {
	defer close(l.flushDone)
	t := time.NewTicker(l.policy.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = l.Sync()
		case <-l.stopFlush:
			return
		}
	}
}

// TxRecord is one logical mutation within a transaction group, already
// resolved to real trefs and encoded by the caller via the Encode*
// helpers in payload.go.
type TxRecord struct {
	Kind    OpKind
	Payload []byte
}

// AppendTx writes TXBEGIN, one TXOP per record in order, then TXCOMMIT, as
// a single buffered write. It applies the sync policy afterward: immediate
// fsync when FlushInterval is 0 or when maxSegmentBytes have been appended
// since the last size-triggered sync, otherwise the write only hits the
// buffer and the background flusher or an explicit Sync() call durabilizes
// it later.
func (l *Log) AppendTx(txid, parentRev uint64, tsMs int64, ops []TxRecord, newRev uint64) error {
	if l.closed.Load() {
		return &errs.DurabilityIOFailed{Cause: fmt.Errorf("wal: closed")}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	begin := encodeTxBegin(TxBegin{Txid: txid, ParentRev: parentRev, TsMs: uint64(tsMs)})
	if _, err := l.writer.Write(begin); err != nil {
		return &errs.DurabilityIOFailed{Cause: err}
	}
	written := len(begin)
	for i, op := range ops {
		rec := encodeTxOp(TxOp{Txid: txid, Index: uint32(i), Kind: op.Kind, Payload: op.Payload})
		if _, err := l.writer.Write(rec); err != nil {
			return &errs.DurabilityIOFailed{Cause: err}
		}
		written += len(rec)
	}
	commit := encodeTxCommit(TxCommit{Txid: txid, NewRev: newRev})
	if _, err := l.writer.Write(commit); err != nil {
		return &errs.DurabilityIOFailed{Cause: err}
	}
	written += len(commit)

	if l.policy.FlushInterval == 0 || l.bytesSince.Add(int64(written)) >= maxSegmentBytes {
		l.bytesSince.Store(0)
		return l.syncLocked()
	}
	return nil
}

// Sync flushes the buffer and fsyncs the underlying file, making every
// TXCOMMIT written so far durable.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.syncLocked()
}

func (l *Log) syncLocked() error {
	start := time.Now()
	if err := l.writer.Flush(); err != nil {
		return &errs.DurabilityIOFailed{Cause: err}
	}
	if err := l.file.Sync(); err != nil {
		return &errs.DurabilityIOFailed{Cause: err}
	}
	l.obs.RecordWALFlush(context.Background(), float64(time.Since(start).Microseconds())/1000)
	return nil
}

// Close flushes, stops the background flusher, and closes the segment
// file.
func (l *Log) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	if l.policy.FlushInterval > 0 {
		close(l.stopFlush)
		<-l.flushDone
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.syncLocked(); err != nil {
		return err
	}
	return l.file.Close()
}

// Path returns the segment file path, for MANIFEST bookkeeping.
func (l *Log) Path() string { return l.segmentPath }
