package geoarrow

import (
	"context"
	"io"
	"sync/atomic"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func chunkedFixture(t *testing.T) *ChunkedArray {
	t.Helper()
	typ := TypeOf(TypePoint)
	chunks := []*Array{
		mustArray(t, typ, []orb.Geometry{orb.Point{0, 0}, orb.Point{1, 1}}),
		mustArray(t, typ, []orb.Geometry{nil}),
		mustArray(t, typ, []orb.Geometry{orb.Point{2, 2}, orb.Point{3, 3}, orb.Point{4, 4}}),
	}
	c, err := NewChunkedArray(chunks)
	require.NoError(t, err)
	return c
}

func TestChunkedArrayAccess(t *testing.T) {
	c := chunkedFixture(t)

	require.Equal(t, 6, c.Len())
	require.Equal(t, 3, c.NumChunks())

	// Global indices cross chunk boundaries transparently.
	for i, want := range []orb.Geometry{
		orb.Point{0, 0}, orb.Point{1, 1}, nil,
		orb.Point{2, 2}, orb.Point{3, 3}, orb.Point{4, 4},
	} {
		g, err := c.Geometry(i)
		require.NoError(t, err)
		require.Equal(t, want, g, "index %d", i)
	}
	require.True(t, c.IsNull(2))
	require.False(t, c.Value(5).IsNull())
}

func TestChunkedArrayTypeMismatch(t *testing.T) {
	_, err := NewChunkedArray([]*Array{
		mustArray(t, TypeOf(TypePoint), []orb.Geometry{orb.Point{0, 0}}),
		mustArray(t, TypeOf(TypeLineString), []orb.Geometry{orb.LineString{{0, 0}, {1, 1}}}),
	})
	require.ErrorIs(t, err, ErrTypeMismatch)

	// Metadata is part of the type.
	a := mustArray(t, TypeOf(TypePoint), []orb.Geometry{orb.Point{0, 0}})
	b, err := a.Cast(a.Type().WithMetadata(Metadata{CRS: WGS84().Serialize()}))
	require.NoError(t, err)
	_, err = NewChunkedArray([]*Array{a, b})
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestChunkReaderSignalsEndOfStream(t *testing.T) {
	c := chunkedFixture(t)
	r := c.Chunks()

	seen := 0
	for {
		chunk, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.NotNil(t, chunk)
		seen++
	}
	require.Equal(t, 3, seen)

	// Exhausted readers stay exhausted until Reset.
	_, err := r.Next()
	require.Equal(t, io.EOF, err)
	r.Reset()
	first, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, c.Chunk(0), first)
}

func TestChunkReaderDeliversEmptyChunks(t *testing.T) {
	empty := mustArray(t, TypeOf(TypePoint), nil)
	c, err := NewChunkedArray([]*Array{empty})
	require.NoError(t, err)

	r := c.Chunks()
	chunk, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, 0, chunk.Len(), "an empty chunk is not end of stream")
	_, err = r.Next()
	require.Equal(t, io.EOF, err)
}

func TestRechunk(t *testing.T) {
	c := chunkedFixture(t)

	re, err := c.Rechunk(4)
	require.NoError(t, err)
	require.Equal(t, c.Len(), re.Len())
	require.Equal(t, 2, re.NumChunks())
	require.Equal(t, 4, re.Chunk(0).Len())
	require.Equal(t, 2, re.Chunk(1).Len())

	for i := 0; i < c.Len(); i++ {
		want, err := c.Geometry(i)
		require.NoError(t, err)
		got, err := re.Geometry(i)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestRechunkPreservesWKBBytes(t *testing.T) {
	typ := TypeOf(TypeWKB)
	a := mustArray(t, typ, []orb.Geometry{orb.Point{1, 2}})
	b := mustArray(t, typ, []orb.Geometry{orb.Point{3, 4}, nil})
	c, err := NewChunkedArray([]*Array{a, b})
	require.NoError(t, err)

	re, err := c.Rechunk(3)
	require.NoError(t, err)
	require.Equal(t, 1, re.NumChunks())
	require.True(t, re.Chunk(0).IsNull(2))

	s, e := a.bytesRange(0)
	rs, reEnd := re.Chunk(0).bytesRange(0)
	require.Equal(t, a.bufs.Data[s:e], re.Chunk(0).bufs.Data[rs:reEnd])
}

func TestConcat(t *testing.T) {
	c := chunkedFixture(t)
	all, err := Concat(c, c)
	require.NoError(t, err)
	require.Equal(t, 2*c.Len(), all.Len())
	require.Equal(t, 2*c.NumChunks(), all.NumChunks())
}

func TestForEachChunkParallel(t *testing.T) {
	c := chunkedFixture(t)

	var visited int64
	err := c.ForEachChunk(context.Background(), 4, func(_ context.Context, i int, chunk *Array) error {
		require.Equal(t, c.Chunk(i), chunk)
		atomic.AddInt64(&visited, int64(chunk.Len()))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(c.Len()), visited)
}

func TestForEachChunkHonorsCancellation(t *testing.T) {
	c := chunkedFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.ForEachChunk(ctx, 1, func(ctx context.Context, _ int, _ *Array) error {
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCastChunkedPreservesBoundaries(t *testing.T) {
	c := chunkedFixture(t)

	encoded, err := CastChunked(context.Background(), c, Type{Geometry: TypeWKB}, 2)
	require.NoError(t, err)
	require.Equal(t, c.NumChunks(), encoded.NumChunks())
	for i := 0; i < c.NumChunks(); i++ {
		require.Equal(t, c.Chunk(i).Len(), encoded.Chunk(i).Len())
	}

	back, err := CastChunked(context.Background(), encoded, TypeOf(TypePoint), 2)
	require.NoError(t, err)
	for i := 0; i < c.NumChunks(); i++ {
		require.True(t, c.Chunk(i).Equal(back.Chunk(i)))
	}
}
