// Package wal implements ZipTag's durability pipeline: a transaction-aware
// append-only write-ahead log with batched flush, periodic snapshots, and
// idempotent crash recovery (spec §4.G).
//
// Every record is little-endian, length-prefixed, and CRC32C-checked. A
// truncated trailing record is treated as end-of-log (the writer process
// crashed mid-append); a CRC mismatch in the middle of the log is fatal.
package wal

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// RecordKind identifies the three record shapes that make up a
// transaction group in the log.
type RecordKind byte

const (
	RecordTxBegin  RecordKind = 1
	RecordTxOp     RecordKind = 2
	RecordTxCommit RecordKind = 3
)

// OpKind identifies a single staged mutation carried by a TXOP record.
type OpKind byte

const (
	OpAddTag       OpKind = 1
	OpRemTag       OpKind = 2
	OpLink         OpKind = 3
	OpUnlink       OpKind = 4
	OpDeclareTType OpKind = 5
	OpDropTType    OpKind = 6
)

// TxBegin is the first record of a transaction group.
type TxBegin struct {
	Txid      uint64
	ParentRev uint64
	TsMs      uint64
}

// TxOp is one staged mutation within a transaction group, in the
// deterministic order the transaction layer assigned it.
type TxOp struct {
	Txid    uint64
	Index   uint32
	Kind    OpKind
	Payload []byte
}

// TxCommit closes a transaction group. Its presence is what makes the
// group's ops durable and replayable; a group missing a TXCOMMIT is
// discarded wholesale during recovery.
type TxCommit struct {
	Txid   uint64
	NewRev uint64
}

// encodeRecord frames kind+body as length-prefixed, CRC32C-checked bytes:
// u32 content length | content (kind byte + body) | u32 crc32c(content).
func encodeRecord(kind RecordKind, body []byte) []byte {
	content := make([]byte, 1+len(body))
	content[0] = byte(kind)
	copy(content[1:], body)

	buf := make([]byte, 4+len(content)+4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(content)))
	copy(buf[4:4+len(content)], content)
	binary.LittleEndian.PutUint32(buf[4+len(content):], crc32.Checksum(content, castagnoli))
	return buf
}

func encodeTxBegin(b TxBegin) []byte {
	body := make([]byte, 24)
	binary.LittleEndian.PutUint64(body[0:8], b.Txid)
	binary.LittleEndian.PutUint64(body[8:16], b.ParentRev)
	binary.LittleEndian.PutUint64(body[16:24], b.TsMs)
	return encodeRecord(RecordTxBegin, body)
}

func encodeTxOp(op TxOp) []byte {
	body := make([]byte, 8+4+1+4+len(op.Payload))
	binary.LittleEndian.PutUint64(body[0:8], op.Txid)
	binary.LittleEndian.PutUint32(body[8:12], op.Index)
	body[12] = byte(op.Kind)
	binary.LittleEndian.PutUint32(body[13:17], uint32(len(op.Payload)))
	copy(body[17:], op.Payload)
	return encodeRecord(RecordTxOp, body)
}

func encodeTxCommit(c TxCommit) []byte {
	body := make([]byte, 16)
	binary.LittleEndian.PutUint64(body[0:8], c.Txid)
	binary.LittleEndian.PutUint64(body[8:16], c.NewRev)
	return encodeRecord(RecordTxCommit, body)
}

// decodedRecord is the union of the three record shapes, produced while
// scanning the log during recovery.
type decodedRecord struct {
	Kind   RecordKind
	Begin  TxBegin
	Op     TxOp
	Commit TxCommit
}

// errTruncated signals a trailing partial record — normal end-of-log after
// a crash mid-append, not a corruption error.
var errTruncated = errors.New("wal: truncated trailing record")

// errCorrupt signals a complete record whose CRC32C does not match its
// content — a fatal mid-log corruption, surfaced as errs.DurabilityCorrupt.
var errCorrupt = errors.New("wal: crc mismatch")

// readRecord reads and validates one framed record from r. It returns
// errTruncated (wrapping io.EOF semantics) when fewer bytes remain than a
// full frame requires, and DurabilityCorrupt-equivalent via a distinct
// sentinel when the frame is complete but its CRC does not match.
func readRecord(r io.Reader) (decodedRecord, int64, error) {
	var lenBuf [4]byte
	n, err := io.ReadFull(r, lenBuf[:])
	if err != nil {
		if n == 0 {
			return decodedRecord{}, 0, io.EOF
		}
		return decodedRecord{}, 0, errTruncated
	}
	contentLen := binary.LittleEndian.Uint32(lenBuf[:])
	if contentLen == 0 || contentLen > 64<<20 {
		return decodedRecord{}, 0, errTruncated
	}

	content := make([]byte, contentLen)
	if _, err := io.ReadFull(r, content); err != nil {
		return decodedRecord{}, 0, errTruncated
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return decodedRecord{}, 0, errTruncated
	}
	wantCRC := binary.LittleEndian.Uint32(crcBuf[:])
	gotCRC := crc32.Checksum(content, castagnoli)
	consumed := int64(4 + len(content) + 4)
	if wantCRC != gotCRC {
		return decodedRecord{}, consumed, errCorrupt
	}

	kind := RecordKind(content[0])
	body := content[1:]
	rec := decodedRecord{Kind: kind}
	switch kind {
	case RecordTxBegin:
		if len(body) != 24 {
			return decodedRecord{}, consumed, errCorrupt
		}
		rec.Begin = TxBegin{
			Txid:      binary.LittleEndian.Uint64(body[0:8]),
			ParentRev: binary.LittleEndian.Uint64(body[8:16]),
			TsMs:      binary.LittleEndian.Uint64(body[16:24]),
		}
	case RecordTxOp:
		if len(body) < 17 {
			return decodedRecord{}, consumed, errCorrupt
		}
		payloadLen := binary.LittleEndian.Uint32(body[13:17])
		if len(body) != int(17+payloadLen) {
			return decodedRecord{}, consumed, errCorrupt
		}
		payload := make([]byte, payloadLen)
		copy(payload, body[17:])
		rec.Op = TxOp{
			Txid:    binary.LittleEndian.Uint64(body[0:8]),
			Index:   binary.LittleEndian.Uint32(body[8:12]),
			Kind:    OpKind(body[12]),
			Payload: payload,
		}
	case RecordTxCommit:
		if len(body) != 16 {
			return decodedRecord{}, consumed, errCorrupt
		}
		rec.Commit = TxCommit{
			Txid:   binary.LittleEndian.Uint64(body[0:8]),
			NewRev: binary.LittleEndian.Uint64(body[8:16]),
		}
	default:
		return decodedRecord{}, consumed, errCorrupt
	}
	return rec, consumed, nil
}
