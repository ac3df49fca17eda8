package logpool

import "errors"

// ErrLayoutVersionMismatch and ErrBlockSizeMismatch are returned by Open
// when an existing pool's header does not match what this binary expects
// (spec.md §4.A, §6: "reject opens where layout_version != RWL_POOL_VERSION
// or block_size != MIN_WRITE_ALLOC_SIZE").
var (
	ErrLayoutVersionMismatch = errors.New("logpool: layout version mismatch")
	ErrBlockSizeMismatch     = errors.New("logpool: block size mismatch")
	ErrOutOfLogEntries       = errors.New("logpool: no free log entries")
	ErrBatchTooLarge         = errors.New("logpool: batch exceeds free log entries")
)
