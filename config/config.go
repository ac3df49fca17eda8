// Package config holds the options the core accepts from its caller.
// Parsing a config file or command line is explicitly out of scope (spec.md
// §1); this package only validates and clamps the handful of keys spec.md
// §6 names.
package config

import (
	"fmt"
	"time"
)

// Options mirrors the configuration keys named in spec.md §6.
type Options struct {
	// RWLPath is the directory holding the pool/poolset files.
	RWLPath string
	// RWLSize is the requested pool size in bytes; clamped to
	// [MinPoolSize, +inf) by Validate.
	RWLSize uint64
	// RWLEnabled gates whether the cache is constructed at all.
	RWLEnabled bool
	// RBDOpThreadTimeout is the worker-queue timeout option. Validate
	// defaults it to DefaultOpThreadTimeout when unset; nothing else in
	// this module reads it.
	RBDOpThreadTimeout time.Duration

	// PersistOnFlush selects the acknowledgement mode described in
	// spec.md §4.D: when true, writes complete to the caller at dispatch
	// and are only guaranteed durable after the next flush.
	PersistOnFlush bool
}

// Validate clamps RWLSize to MinPoolSize and rejects an empty path when the
// cache is enabled.
func (o *Options) Validate() error {
	if !o.RWLEnabled {
		return nil
	}
	if o.RWLPath == "" {
		return fmt.Errorf("config: rwl_path must be set when rwl_enabled is true")
	}
	if o.RWLSize < MinPoolSize {
		o.RWLSize = MinPoolSize
	}
	if o.RBDOpThreadTimeout <= 0 {
		o.RBDOpThreadTimeout = DefaultOpThreadTimeout
	}
	return nil
}
