package logpool

import (
	"encoding/binary"

	"rwl/pmem"
)

// EntryKind distinguishes a write slot from a sync-point slot (spec.md §3).
type EntryKind uint8

const (
	EntryKindInvalid EntryKind = iota
	EntryKindWrite
	EntryKindSyncPoint
)

// flag bits packed into a LogEntryRecord's on-disk Flags byte, matching the
// {valid, sync_point, has_data, sequenced, unmap} set in spec.md §6.
const (
	flagValid = 1 << iota
	flagSyncPoint
	flagHasData
	flagSequenced
	flagUnmap
)

// recordSize is the fixed on-disk size of one LogEntryRecord: it must not
// change once a pool has been created with it, the same way block_size is
// pinned for the lifetime of a pool (spec.md §6).
const recordSize = 4 + 1 + 8 + 8 + 8 + 4 + 8 + 8 + checksumSize

// LogEntryRecord is the persistent form of one ring slot (spec.md §3, §6).
type LogEntryRecord struct {
	EntryIndex  uint32
	Kind        EntryKind
	SyncGen     uint64
	WriteSeq    uint64
	ImageOffset uint64
	WriteBytes  uint32
	Valid       bool
	HasData     bool
	Sequenced   bool
	Unmap       bool
	DataHandle  pmem.Handle
}

func (r *LogEntryRecord) flags() byte {
	var f byte
	if r.Valid {
		f |= flagValid
	}
	if r.Kind == EntryKindSyncPoint {
		f |= flagSyncPoint
	}
	if r.HasData {
		f |= flagHasData
	}
	if r.Sequenced {
		f |= flagSequenced
	}
	if r.Unmap {
		f |= flagUnmap
	}
	return f
}

func (r *LogEntryRecord) setFlags(f byte) {
	r.Valid = f&flagValid != 0
	if f&flagSyncPoint != 0 {
		r.Kind = EntryKindSyncPoint
	} else {
		r.Kind = EntryKindWrite
	}
	r.HasData = f&flagHasData != 0
	r.Sequenced = f&flagSequenced != 0
	r.Unmap = f&flagUnmap != 0
}

// marshal writes r's fixed-size on-disk form, followed by a BLAKE3 checksum
// over everything preceding it, into buf (which must be recordSize bytes).
// Grounded on the teacher's disk/wal/log_record_serializer.go
// binary.BigEndian.AppendUintNN style, generalized from a variable-length
// serializer to a fixed-size one since ring slots never change size.
func (r *LogEntryRecord) marshal(buf []byte) {
	b := buf[:0]
	b = binary.BigEndian.AppendUint32(b, r.EntryIndex)
	b = append(b, r.flags())
	b = binary.BigEndian.AppendUint64(b, r.SyncGen)
	b = binary.BigEndian.AppendUint64(b, r.WriteSeq)
	b = binary.BigEndian.AppendUint64(b, r.ImageOffset)
	b = binary.BigEndian.AppendUint32(b, r.WriteBytes)
	b = appendHandle(b, r.DataHandle)
	sum := checksum(b)
	b = append(b, sum[:]...)
	copy(buf, b)
}

func (r *LogEntryRecord) unmarshal(buf []byte) bool {
	if len(buf) < recordSize {
		return false
	}
	body := buf[:recordSize-checksumSize]
	want := buf[recordSize-checksumSize : recordSize]
	if !verifyChecksum(body, want) {
		return false
	}

	r.EntryIndex = binary.BigEndian.Uint32(buf[0:4])
	r.setFlags(buf[4])
	r.SyncGen = binary.BigEndian.Uint64(buf[5:13])
	r.WriteSeq = binary.BigEndian.Uint64(buf[13:21])
	r.ImageOffset = binary.BigEndian.Uint64(buf[21:29])
	r.WriteBytes = binary.BigEndian.Uint32(buf[29:33])
	r.DataHandle = readHandle(buf[33:49])
	return true
}

func appendHandle(b []byte, h pmem.Handle) []byte {
	b = binary.BigEndian.AppendUint64(b, uint64(h.Offset))
	b = binary.BigEndian.AppendUint64(b, uint64(h.Size))
	return b
}

func readHandle(b []byte) pmem.Handle {
	return pmem.Handle{
		Offset: int64(binary.BigEndian.Uint64(b[0:8])),
		Size:   int64(binary.BigEndian.Uint64(b[8:16])),
	}
}
