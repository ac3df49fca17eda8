package blockguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_NonOverlappingGrantsImmediately(t *testing.T) {
	var g Guard
	var ran bool
	g.Detain(1, Range{0, 4096}, func() { ran = true })
	assert.True(t, ran)
	assert.Equal(t, 0, g.Pending())
}

func TestGuard_OverlappingDetainsUntilReleased(t *testing.T) {
	var g Guard
	g.Detain(1, Range{0, 4096}, func() {})

	var ran bool
	g.Detain(2, Range{2048, 6144}, func() { ran = true })
	assert.False(t, ran)
	assert.Equal(t, 1, g.Pending())

	g.Release(1, Range{0, 4096})
	assert.True(t, ran)
	assert.Equal(t, 0, g.Pending())
}

func TestGuard_DisjointRangesDoNotBlockEachOther(t *testing.T) {
	var g Guard
	g.Detain(1, Range{0, 4096}, func() {})

	var ran bool
	g.Detain(2, Range{8192, 12288}, func() { ran = true })
	assert.True(t, ran)
}

func TestGuard_BarrierWaitsForActiveHolds(t *testing.T) {
	var g Guard
	g.Detain(1, Range{0, 4096}, func() {})

	var fired bool
	g.Barrier(func() { fired = true })
	assert.False(t, fired)

	g.Release(1, Range{0, 4096})
	assert.True(t, fired)
}

func TestGuard_BarrierFiresImmediatelyWhenIdle(t *testing.T) {
	var g Guard
	var fired bool
	g.Barrier(func() { fired = true })
	assert.True(t, fired)
}

func TestGuard_DetainAfterBarrierQueuesUntilBarrierCompletes(t *testing.T) {
	var g Guard
	g.Detain(1, Range{0, 4096}, func() {})

	g.Barrier(func() {})

	var ran bool
	g.Detain(2, Range{8192, 12288}, func() { ran = true })
	require.False(t, ran, "request submitted during a pending barrier must queue, even on a disjoint range")

	g.Release(1, Range{0, 4096})
	assert.True(t, ran)
}
