package downstream

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_WriteThenReadRoundTrips(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	data := bytes.Repeat([]byte{0xAB}, 5000)
	require.NoError(t, f.Write(ctx, 100, data))

	got, err := f.Read(ctx, 100, uint32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFake_WriteSameRepeatsPattern(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.WriteSame(ctx, 0, 8, []byte{1, 2}))
	got, err := f.Read(ctx, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 1, 2, 1, 2, 1, 2}, got)
}

func TestFake_CompareAndWriteRejectsMismatch(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, 0, []byte("hello")))
	err := f.CompareAndWrite(ctx, 0, []byte("world"), []byte("xxxxx"))
	assert.Error(t, err)

	got, _ := f.Read(ctx, 0, 5)
	assert.Equal(t, []byte("hello"), got)
}

func TestFake_CompareAndWriteSucceedsOnMatch(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, 0, []byte("hello")))
	require.NoError(t, f.CompareAndWrite(ctx, 0, []byte("hello"), []byte("world")))

	got, _ := f.Read(ctx, 0, 5)
	assert.Equal(t, []byte("world"), got)
}

func TestFake_DiscardZeroesRange(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, 0, bytes.Repeat([]byte{1}, 4096)))
	require.NoError(t, f.Discard(ctx, 0, 4096))

	got, _ := f.Read(ctx, 0, 4096)
	assert.Equal(t, make([]byte, 4096), got)
}

func TestFake_InvalidateClearsEverything(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, 0, []byte("hello")))
	require.NoError(t, f.Invalidate(ctx))
	assert.Empty(t, f.BlockOffsets())
}

func TestFake_CrossBlockWriteSpansMultipleBlocks(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	data := bytes.Repeat([]byte{0x42}, fakeBlockSize+10)
	require.NoError(t, f.Write(ctx, fakeBlockSize-5, data))
	assert.Len(t, f.BlockOffsets(), 3)

	got, err := f.Read(ctx, fakeBlockSize-5, uint32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
