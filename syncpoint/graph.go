package syncpoint

import "sync"

// SyncPoint is one barrier point in spec.md §4.D's chain. PriorPersisted
// completes once everything before this sync point is durable;
// SelfPersisted completes once this sync point's own write group is
// durable, which in turn is what lets the next sync point's PriorPersisted
// complete. The sync point's own bookkeeping log entry is tracked
// separately, by RecordPersisted.
//
// Later is owning: walking forward from Graph's head keeps the whole live
// chain reachable. Earlier is non-owning, for backward traversal only —
// once a sync point retires, Graph.Retire severs it from Later so it can be
// collected even while something else still holds an Earlier pointer to it.
type SyncPoint struct {
	Gen uint64

	PriorPersisted *Aggregator
	SelfPersisted  *Aggregator

	// RecordPersisted completes once this sync point's own bookkeeping log
	// entry has been appended — distinct from SelfPersisted, which only
	// tracks the write group it closes out. It fires after SelfPersisted,
	// since the bookkeeping record's SyncGen must already be fully settled
	// before it is written.
	RecordPersisted *Aggregator

	Later   *SyncPoint
	Earlier *SyncPoint
}

// Graph owns the live sync point chain. logpool.LogEntry deliberately
// stores only a SyncGen number rather than a *SyncPoint, so that package
// does not need to import this one; Graph.Find bridges the two.
type Graph struct {
	mu      sync.Mutex
	head    *SyncPoint
	tail    *SyncPoint
	nextGen uint64
}

// NewGraph returns an empty graph; the first sync point it creates carries
// generation 1, so generation 0 can be used as "no sync point yet".
func NewGraph() *Graph {
	return &Graph{nextGen: 1}
}

// NewSyncPoint closes out the current tail's write group — no further
// writes can join it once a successor exists — and returns a fresh one
// chained after it.
func (g *Graph) NewSyncPoint() *SyncPoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.newSyncPointLocked()
}

func (g *Graph) newSyncPointLocked() *SyncPoint {
	sp := &SyncPoint{
		Gen:             g.nextGen,
		PriorPersisted:  NewAggregator(),
		SelfPersisted:   NewAggregator(),
		RecordPersisted: NewAggregator(),
		Earlier:         g.tail,
	}
	// RecordPersisted has exactly one contributor — the eventual append of
	// this sync point's own bookkeeping record — known up front, so it can
	// be activated immediately rather than waiting on a later Activate call.
	sp.RecordPersisted.Add(1)
	sp.RecordPersisted.Activate()
	g.nextGen++

	if prev := g.tail; prev != nil {
		prev.Later = sp
		sp.PriorPersisted.Add(1)
		prev.SelfPersisted.Listen(func() { sp.PriorPersisted.Done() })
		prev.SelfPersisted.Activate()
	}
	sp.PriorPersisted.Activate()

	if g.head == nil {
		g.head = sp
	}
	g.tail = sp
	return sp
}

// FlushNewSyncPoint is the entry point package rwlog's explicit flush
// operation uses: it returns the sync point being closed out (nil if the
// log has never had one) together with the fresh one that succeeds it, so
// the caller can Listen on the former's SelfPersisted.
func (g *Graph) FlushNewSyncPoint() (flushed, next *SyncPoint) {
	g.mu.Lock()
	flushed = g.tail
	next = g.newSyncPointLocked()
	g.mu.Unlock()
	return flushed, next
}

// FabricateMissingSyncPoint is used by package recovery to rebuild a sync
// point for a generation found in the log: both for generations whose own
// sync-point record was found, and for a generation whose record was never
// persisted because the crash landed between a write's append and that
// record. The rebuilt sync point is marked fully persisted on all three
// aggregators, since nothing will ever complete them for real; the writes
// recovery keeps stay in the write-log map for the retirer to drain.
func (g *Graph) FabricateMissingSyncPoint(gen uint64) *SyncPoint {
	g.mu.Lock()
	defer g.mu.Unlock()

	sp := &SyncPoint{
		Gen:             gen,
		PriorPersisted:  NewAggregator(),
		SelfPersisted:   NewAggregator(),
		RecordPersisted: NewAggregator(),
		Earlier:         g.tail,
	}
	sp.PriorPersisted.Activate()
	sp.SelfPersisted.Activate()
	sp.RecordPersisted.Activate()

	if g.tail != nil {
		g.tail.Later = sp
	}
	if g.head == nil {
		g.head = sp
	}
	if gen >= g.nextGen {
		g.nextGen = gen + 1
	}
	g.tail = sp
	return sp
}

// Find walks the live chain looking for the sync point with the given
// generation, for recovery to resolve a LogEntry's SyncGen field.
func (g *Graph) Find(gen uint64) *SyncPoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	for sp := g.head; sp != nil; sp = sp.Later {
		if sp.Gen == gen {
			return sp
		}
	}
	return nil
}

// Retire severs sp from the forward chain once everything earlier than it
// has also retired, so it can be collected even while some reader still
// holds its non-owning Earlier pointer.
func (g *Graph) Retire(sp *SyncPoint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.head == sp {
		g.head = sp.Later
	}
	sp.Later = nil
	sp.Earlier = nil
}

// Tail returns the current (still-open) sync point, or nil if none has
// been created yet.
func (g *Graph) Tail() *SyncPoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tail
}

// Head returns the oldest live sync point, or nil if the graph is empty.
func (g *Graph) Head() *SyncPoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.head
}
