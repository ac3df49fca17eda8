package config

import "time"

// Numeric constants named in spec.md §6. The spec leaves exact values to
// the implementation; these are chosen to be internally consistent rather
// than to match any particular deployment.
const (
	// MinWriteAllocSize is the minimum PMEM allocation granularity and the
	// persistent pool's block_size field.
	MinWriteAllocSize = 4096

	// BlockAllocOverheadBytes is the per-write bookkeeping overhead assumed
	// when sizing a pool's ring (logpool's numLogEntriesFor). It is not
	// added to buffer reservations, which are exactly the payload size.
	BlockAllocOverheadBytes = 64

	// MaxLogEntries bounds how many fixed slots a pool's ring may have.
	MaxLogEntries = 1 << 20

	// MaxWritesPerSyncPoint and MaxBytesPerSyncPoint bound how large a
	// sync-point group may grow before a flush is forced internally.
	MaxWritesPerSyncPoint = 1024
	MaxBytesPerSyncPoint  = 1 << 24

	// MaxAllocPerTransaction and MaxFreePerTransaction are the append and
	// retirement batch sizes (B_append / retirement batch k).
	MaxAllocPerTransaction = 128
	MaxFreePerTransaction  = 128

	// BFlush is the buffer-flush batch size (B_flush in spec.md §4.E).
	// appendpipe does not read it: its buffer-flush pass covers each whole
	// append batch, which MaxAllocPerTransaction bounds.
	BFlush = 32

	// LaneCount is L, the number of concurrency credits gating in-flight
	// replication work (spec.md §4.F, §5).
	LaneCount = 256

	// UsableSizeFraction is the fraction of a pool's raw size considered
	// usable for data buffers after root and slot-array overhead.
	UsableSizeFraction = 0.9

	// RetireHighWater / RetireLowWater are fractions of the ring's slot
	// occupancy (retire.Retirer.DirtyFraction) that bound the retirement
	// loop (spec.md §4.G watermarks). Bytes allocated from the pmem arena
	// are not consulted.
	RetireHighWater = 0.60
	RetireLowWater  = 0.40

	// InFlightFlushWriteLimit / InFlightFlushBytesLimit bound how many
	// flush actions the retirer keeps outstanding against downstream.
	InFlightFlushWriteLimit = 64
	InFlightFlushBytesLimit = 1 << 26

	// RWLPoolVersion is the persistent layout version; opens with a
	// mismatching version are rejected (spec.md §6).
	RWLPoolVersion = uint32(1)

	// MinPoolSize is the smallest pool size Validate will accept, after
	// clamping.
	MinPoolSize = 16 << 20
)

// RetireBatchTimeLimit bounds how long a single retirement pass may run
// before yielding, regardless of whether LowWater has been reached.
const RetireBatchTimeLimit = 20 * time.Millisecond

// DefaultOpThreadTimeout is used when RBDOpThreadTimeout is unset.
const DefaultOpThreadTimeout = 30 * time.Second
