package wal

import "encoding/binary"

// AddTagPayload is the decoded body of an OpAddTag TXOP.
type AddTagPayload struct {
	Tref  int64
	TType string
	Val   string
}

// EncodeAddTag serializes an ADD_TAG op payload: tref (i64) | ttype
// (u16 len + utf8) | val (u32 len + utf8).
func EncodeAddTag(p AddTagPayload) []byte {
	ttype := []byte(p.TType)
	val := []byte(p.Val)
	buf := make([]byte, 8+2+len(ttype)+4+len(val))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(p.Tref))
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(ttype)))
	off := 10
	copy(buf[off:], ttype)
	off += len(ttype)
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(val)))
	off += 4
	copy(buf[off:], val)
	return buf
}

// DecodeAddTag is the inverse of EncodeAddTag.
func DecodeAddTag(b []byte) (AddTagPayload, bool) {
	if len(b) < 10 {
		return AddTagPayload{}, false
	}
	tref := int64(binary.LittleEndian.Uint64(b[0:8]))
	ttLen := int(binary.LittleEndian.Uint16(b[8:10]))
	off := 10
	if len(b) < off+ttLen+4 {
		return AddTagPayload{}, false
	}
	ttype := string(b[off : off+ttLen])
	off += ttLen
	valLen := int(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	if len(b) != off+valLen {
		return AddTagPayload{}, false
	}
	val := string(b[off : off+valLen])
	return AddTagPayload{Tref: tref, TType: ttype, Val: val}, true
}

// EncodeTref serializes a single tref (used by REM_TAG).
func EncodeTref(tref int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(tref))
	return buf
}

// DecodeTref is the inverse of EncodeTref.
func DecodeTref(b []byte) (int64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return int64(binary.LittleEndian.Uint64(b)), true
}

// EncodeLinkPair serializes two trefs (used by LINK and UNLINK).
func EncodeLinkPair(a, b int64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(a))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(b))
	return buf
}

// DecodeLinkPair is the inverse of EncodeLinkPair.
func DecodeLinkPair(buf []byte) (a, b int64, ok bool) {
	if len(buf) != 16 {
		return 0, 0, false
	}
	return int64(binary.LittleEndian.Uint64(buf[0:8])), int64(binary.LittleEndian.Uint64(buf[8:16])), true
}

// EncodeTType serializes a bare ttype identifier (DECLARE_TTYPE, DROP_TTYPE).
func EncodeTType(ttype string) []byte {
	b := []byte(ttype)
	buf := make([]byte, 2+len(b))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(b)))
	copy(buf[2:], b)
	return buf
}

// DecodeTType is the inverse of EncodeTType.
func DecodeTType(buf []byte) (string, bool) {
	if len(buf) < 2 {
		return "", false
	}
	n := int(binary.LittleEndian.Uint16(buf[0:2]))
	if len(buf) != 2+n {
		return "", false
	}
	return string(buf[2 : 2+n]), true
}
