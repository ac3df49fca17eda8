// Package downstream defines the interface this module drains its dirty
// log entries into: the backing image store the write-log cache sits in
// front of. A production binding would be an RBD/RADOS client; tests and
// the CLI use the in-memory Fake in this package.
package downstream

import "context"

// Cache is the backing store spec.md §2 calls "the image" — whatever the
// write-log cache is accelerating writes to. Every method's context
// controls cancellation the way config.Options.RBDOpThreadTimeout bounds a
// production binding's own downstream calls.
type Cache interface {
	Init(ctx context.Context) error
	Shutdown(ctx context.Context) error

	Read(ctx context.Context, offset uint64, length uint32) ([]byte, error)
	Write(ctx context.Context, offset uint64, data []byte) error
	WriteSame(ctx context.Context, offset uint64, length uint32, pattern []byte) error
	CompareAndWrite(ctx context.Context, offset uint64, cmp, data []byte) error
	Discard(ctx context.Context, offset uint64, length uint32) error
	Flush(ctx context.Context) error
	Invalidate(ctx context.Context) error
}
