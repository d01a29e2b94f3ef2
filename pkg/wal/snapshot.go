package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/brifl/ziptag/pkg/errs"
	"github.com/brifl/ziptag/pkg/graph"
)

// snapshotMagic identifies a ZipTag snapshot file; snapshotFormatPlain and
// snapshotFormatZstd select the body encoding that follows the header.
const (
	snapshotMagic       = "ZTAGSNAP"
	snapshotFormatPlain byte = 0
	snapshotFormatZstd  byte = 1
)

// WriteSnapshot atomically writes dir/snapshot-<rev>.bin: write to a
// temp file in the same directory, fsync, then rename over any previous
// snapshot at this path. Nothing else on the filesystem ever observes a
// partially-written snapshot.
func WriteSnapshot(dir string, rev graph.Rev, nextTref graph.Tref, tags []*graph.Tag, links []*graph.Link, compress bool) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &errs.DurabilityIOFailed{Cause: err}
	}
	finalPath := filepath.Join(dir, snapshotName(rev))
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", &errs.DurabilityIOFailed{Cause: err}
	}
	defer os.Remove(tmpPath) // no-op once renamed

	if err := writeSnapshotBody(f, rev, nextTref, tags, links, compress); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", &errs.DurabilityIOFailed{Cause: err}
	}
	if err := f.Close(); err != nil {
		return "", &errs.DurabilityIOFailed{Cause: err}
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", &errs.DurabilityIOFailed{Cause: err}
	}
	return finalPath, nil
}

func snapshotName(rev graph.Rev) string { return fmt.Sprintf("snapshot-%020d.bin", rev) }

func writeSnapshotBody(w io.Writer, rev graph.Rev, nextTref graph.Tref, tags []*graph.Tag, links []*graph.Link, compress bool) error {
	header := make([]byte, len(snapshotMagic)+1+8+8)
	copy(header, snapshotMagic)
	off := len(snapshotMagic)
	if compress {
		header[off] = snapshotFormatZstd
	} else {
		header[off] = snapshotFormatPlain
	}
	off++
	binary.LittleEndian.PutUint64(header[off:off+8], rev)
	off += 8
	binary.LittleEndian.PutUint64(header[off:off+8], uint64(nextTref))
	if _, err := w.Write(header); err != nil {
		return &errs.DurabilityIOFailed{Cause: err}
	}

	var bodyWriter io.Writer = w
	var zw *zstd.Encoder
	if compress {
		var err error
		zw, err = zstd.NewWriter(w)
		if err != nil {
			return &errs.DurabilityIOFailed{Cause: err}
		}
		bodyWriter = zw
	}

	bw := bufio.NewWriter(bodyWriter)
	if err := encodeTags(bw, tags); err != nil {
		return err
	}
	if err := encodeLinks(bw, links); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return &errs.DurabilityIOFailed{Cause: err}
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return &errs.DurabilityIOFailed{Cause: err}
		}
	}
	return nil
}

func encodeTags(w io.Writer, tags []*graph.Tag) error {
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(tags)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return &errs.DurabilityIOFailed{Cause: err}
	}
	for _, t := range tags {
		rec := make([]byte, 8+8+8+2+len(t.TType)+4+len(t.Val))
		off := 0
		binary.LittleEndian.PutUint64(rec[off:off+8], uint64(t.Tref))
		off += 8
		binary.LittleEndian.PutUint64(rec[off:off+8], t.CreateRev)
		off += 8
		binary.LittleEndian.PutUint64(rec[off:off+8], t.DeleteRev)
		off += 8
		binary.LittleEndian.PutUint16(rec[off:off+2], uint16(len(t.TType)))
		off += 2
		copy(rec[off:], t.TType)
		off += len(t.TType)
		binary.LittleEndian.PutUint32(rec[off:off+4], uint32(len(t.Val)))
		off += 4
		copy(rec[off:], t.Val)
		if _, err := w.Write(rec); err != nil {
			return &errs.DurabilityIOFailed{Cause: err}
		}
	}
	return nil
}

func encodeLinks(w io.Writer, links []*graph.Link) error {
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(links)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return &errs.DurabilityIOFailed{Cause: err}
	}
	for _, l := range links {
		rec := make([]byte, 32)
		binary.LittleEndian.PutUint64(rec[0:8], uint64(l.A))
		binary.LittleEndian.PutUint64(rec[8:16], uint64(l.B))
		binary.LittleEndian.PutUint64(rec[16:24], l.CreateRev)
		binary.LittleEndian.PutUint64(rec[24:32], l.DeleteRev)
		if _, err := w.Write(rec); err != nil {
			return &errs.DurabilityIOFailed{Cause: err}
		}
	}
	return nil
}

// SnapshotData is the decoded contents of a snapshot file.
type SnapshotData struct {
	Rev      graph.Rev
	NextTref graph.Tref
	Tags     []*graph.Tag
	Links    []*graph.Link
}

// ReadSnapshot loads and decodes the snapshot file at path.
func ReadSnapshot(path string) (*SnapshotData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &errs.DurabilityIOFailed{Cause: err}
	}
	defer f.Close()

	header := make([]byte, len(snapshotMagic)+1+8+8)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, &errs.DurabilityIOFailed{Cause: err}
	}
	if string(header[:len(snapshotMagic)]) != snapshotMagic {
		return nil, &errs.DurabilityCorrupt{Offset: 0}
	}
	off := len(snapshotMagic)
	format := header[off]
	off++
	rev := binary.LittleEndian.Uint64(header[off : off+8])
	off += 8
	nextTref := graph.Tref(binary.LittleEndian.Uint64(header[off : off+8]))

	var body io.Reader = f
	if format == snapshotFormatZstd {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, &errs.DurabilityIOFailed{Cause: err}
		}
		defer zr.Close()
		body = zr
	}
	br := bufio.NewReader(body)

	tags, err := decodeTags(br)
	if err != nil {
		return nil, err
	}
	links, err := decodeLinks(br)
	if err != nil {
		return nil, err
	}
	return &SnapshotData{Rev: rev, NextTref: nextTref, Tags: tags, Links: links}, nil
}

func decodeTags(r io.Reader) ([]*graph.Tag, error) {
	var countBuf [8]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, &errs.DurabilityIOFailed{Cause: err}
	}
	n := binary.LittleEndian.Uint64(countBuf[:])
	tags := make([]*graph.Tag, 0, n)
	for i := uint64(0); i < n; i++ {
		var fixed [26]byte
		if _, err := io.ReadFull(r, fixed[:]); err != nil {
			return nil, &errs.DurabilityIOFailed{Cause: err}
		}
		tref := int64(binary.LittleEndian.Uint64(fixed[0:8]))
		createRev := binary.LittleEndian.Uint64(fixed[8:16])
		deleteRev := binary.LittleEndian.Uint64(fixed[16:24])
		ttLen := binary.LittleEndian.Uint16(fixed[24:26])
		ttype := make([]byte, ttLen)
		if _, err := io.ReadFull(r, ttype); err != nil {
			return nil, &errs.DurabilityIOFailed{Cause: err}
		}
		var valLenBuf [4]byte
		if _, err := io.ReadFull(r, valLenBuf[:]); err != nil {
			return nil, &errs.DurabilityIOFailed{Cause: err}
		}
		valLen := binary.LittleEndian.Uint32(valLenBuf[:])
		val := make([]byte, valLen)
		if _, err := io.ReadFull(r, val); err != nil {
			return nil, &errs.DurabilityIOFailed{Cause: err}
		}
		tags = append(tags, &graph.Tag{
			Tref: tref, TType: string(ttype), Val: string(val),
			CreateRev: createRev, DeleteRev: deleteRev,
		})
	}
	return tags, nil
}

func decodeLinks(r io.Reader) ([]*graph.Link, error) {
	var countBuf [8]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, &errs.DurabilityIOFailed{Cause: err}
	}
	n := binary.LittleEndian.Uint64(countBuf[:])
	links := make([]*graph.Link, 0, n)
	for i := uint64(0); i < n; i++ {
		var rec [32]byte
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			return nil, &errs.DurabilityIOFailed{Cause: err}
		}
		links = append(links, &graph.Link{
			A:         int64(binary.LittleEndian.Uint64(rec[0:8])),
			B:         int64(binary.LittleEndian.Uint64(rec[8:16])),
			CreateRev: binary.LittleEndian.Uint64(rec[16:24]),
			DeleteRev: binary.LittleEndian.Uint64(rec[24:32]),
		})
	}
	return links, nil
}
