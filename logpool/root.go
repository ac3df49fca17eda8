package logpool

import (
	"encoding/binary"
	"os"
)

// headerSize is the fixed width of PoolRoot's on-disk encoding. Padded out
// so the slot array that follows it in the root region starts at a round
// offset.
const headerSize = 64

// PoolRoot is the persistent root object described in spec.md §6.
type PoolRoot struct {
	LayoutVersion   uint32
	PoolSize        uint64
	BlockSize       uint32
	NumLogEntries   uint32
	FirstFreeEntry  uint32
	FirstValidEntry uint32
}

func (r *PoolRoot) marshal() []byte {
	buf := make([]byte, headerSize)
	b := buf[:0]
	b = binary.BigEndian.AppendUint32(b, r.LayoutVersion)
	b = binary.BigEndian.AppendUint64(b, r.PoolSize)
	b = binary.BigEndian.AppendUint32(b, r.BlockSize)
	b = binary.BigEndian.AppendUint32(b, r.NumLogEntries)
	b = binary.BigEndian.AppendUint32(b, r.FirstFreeEntry)
	b = binary.BigEndian.AppendUint32(b, r.FirstValidEntry)
	return buf[:headerSize]
}

func (r *PoolRoot) unmarshal(buf []byte) {
	r.LayoutVersion = binary.BigEndian.Uint32(buf[0:4])
	r.PoolSize = binary.BigEndian.Uint64(buf[4:12])
	r.BlockSize = binary.BigEndian.Uint32(buf[12:16])
	r.NumLogEntries = binary.BigEndian.Uint32(buf[16:20])
	r.FirstFreeEntry = binary.BigEndian.Uint32(buf[20:24])
	r.FirstValidEntry = binary.BigEndian.Uint32(buf[24:28])
}

// slotOffset returns the root-region byte offset of slot idx's record.
func slotOffset(idx uint32) int {
	return headerSize + int(idx)*recordSize
}

// readHeaderOnly reads just the fixed-size header of an existing pool file,
// ahead of knowing the slot array's size (which the header itself names).
// This mirrors the bootstrap problem any self-describing file format has:
// a short initial read is needed before the rest of the layout is known.
func readHeaderOnly(path string) (PoolRoot, error) {
	var root PoolRoot
	f, err := os.Open(path)
	if err != nil {
		return root, err
	}
	defer f.Close()

	buf := make([]byte, headerSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return root, err
	}
	root.unmarshal(buf)
	return root, nil
}
