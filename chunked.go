package geoarrow

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
)

// ChunkedArray is a logical geometry column composed of an ordered
// sequence of same-typed Arrays. Chunks may differ in length. The
// sequence is immutable once assembled: appending data means building a
// new ChunkedArray from the concatenation of chunk sequences.
type ChunkedArray struct {
	typ    Type
	chunks []*Array
	// sums[i] is the number of elements before chunk i.
	sums []int
}

// NewChunkedArray assembles chunks into a column. All chunks must share
// an identical Type, including metadata; otherwise ErrTypeMismatch.
func NewChunkedArray(chunks []*Array) (*ChunkedArray, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks", ErrTypeMismatch)
	}
	typ := chunks[0].Type()
	sums := make([]int, len(chunks)+1)
	for i, c := range chunks {
		if !c.Type().Equal(typ) {
			return nil, fmt.Errorf("%w: chunk %d is %s, want %s", ErrTypeMismatch, i, c.Type(), typ)
		}
		sums[i+1] = sums[i] + c.Len()
	}
	return &ChunkedArray{typ: typ, chunks: append([]*Array(nil), chunks...), sums: sums}, nil
}

// Concat builds a new ChunkedArray from the chunk sequences of a then b.
func Concat(a, b *ChunkedArray) (*ChunkedArray, error) {
	chunks := make([]*Array, 0, len(a.chunks)+len(b.chunks))
	chunks = append(chunks, a.chunks...)
	chunks = append(chunks, b.chunks...)
	return NewChunkedArray(chunks)
}

// Type returns the shared type of all chunks.
func (c *ChunkedArray) Type() Type { return c.typ }

// Len returns the total number of elements across all chunks.
func (c *ChunkedArray) Len() int { return c.sums[len(c.chunks)] }

// NumChunks returns the number of chunks.
func (c *ChunkedArray) NumChunks() int { return len(c.chunks) }

// Chunk returns chunk i.
func (c *ChunkedArray) Chunk(i int) *Array { return c.chunks[i] }

// locate finds the chunk owning global index i via binary search over
// the prefix sums.
func (c *ChunkedArray) locate(i int) (chunk, local int) {
	if i < 0 || i >= c.Len() {
		panic(fmt.Sprintf("geoarrow: index %d out of bounds [0, %d)", i, c.Len()))
	}
	chunk = sort.Search(len(c.chunks), func(k int) bool { return c.sums[k+1] > i })
	return chunk, i - c.sums[chunk]
}

// Value returns a zero-copy accessor for the element at the global
// index, delegating to the owning chunk.
func (c *ChunkedArray) Value(i int) Value {
	chunk, local := c.locate(i)
	return c.chunks[chunk].Value(local)
}

// IsNull reports whether the element at the global index is null.
func (c *ChunkedArray) IsNull(i int) bool {
	chunk, local := c.locate(i)
	return c.chunks[chunk].IsNull(local)
}

// Geometry materializes the element at the global index.
func (c *ChunkedArray) Geometry(i int) (orb.Geometry, error) {
	chunk, local := c.locate(i)
	return c.chunks[chunk].Geometry(local)
}

// Chunks returns a restartable pull-based reader over the underlying
// Arrays, the streaming form handed to consumers and codecs.
func (c *ChunkedArray) Chunks() *ChunkReader {
	return &ChunkReader{chunks: c.chunks}
}

// ChunkReader is a finite, restartable sequence of same-typed Arrays.
// The end of the stream is signalled explicitly by io.EOF, distinct from
// an empty chunk, which is delivered like any other.
type ChunkReader struct {
	chunks []*Array
	next   int
}

// NewChunkReader returns a reader over an explicit chunk sequence.
func NewChunkReader(chunks []*Array) *ChunkReader {
	return &ChunkReader{chunks: chunks}
}

// Next returns the next chunk, or io.EOF when the sequence is finished.
func (r *ChunkReader) Next() (*Array, error) {
	if r.next >= len(r.chunks) {
		return nil, io.EOF
	}
	a := r.chunks[r.next]
	r.next++
	return a, nil
}

// Reset restarts the sequence from the first chunk.
func (r *ChunkReader) Reset() { r.next = 0 }

// Rechunk redistributes the elements into chunks of at most size
// elements each. This is the only ChunkedArray operation that copies
// data; everything else shares the underlying buffers.
func (c *ChunkedArray) Rechunk(size int) (*ChunkedArray, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d", ErrOutOfBounds, size)
	}
	total := c.Len()
	var out []*Array
	for start := 0; start < total || len(out) == 0; start += size {
		n := size
		if start+n > total {
			n = total - start
		}
		b, err := NewBuilderWithCapacity(c.typ, n)
		if err != nil {
			return nil, err
		}
		for i := start; i < start+n; i++ {
			if err := c.copyElement(b, i); err != nil {
				return nil, err
			}
		}
		arr, err := b.Finish()
		if err != nil {
			return nil, err
		}
		out = append(out, arr)
	}
	return NewChunkedArray(out)
}

// copyElement replays global element i into the builder. Serialized
// elements are copied byte for byte so re-encoding cannot perturb them.
func (c *ChunkedArray) copyElement(b Builder, i int) error {
	chunk, local := c.locate(i)
	a := c.chunks[chunk]
	if a.IsNull(local) {
		return b.Push(nil)
	}
	switch bb := b.(type) {
	case *WKBBuilder:
		s, e := a.bytesRange(a.offset + local)
		return bb.PushRaw(a.bufs.Data[s:e])
	case *WKTBuilder:
		s, e := a.bytesRange(a.offset + local)
		return bb.PushRaw(string(a.bufs.Data[s:e]))
	}
	g, err := a.Geometry(local)
	if err != nil {
		return err
	}
	return b.Push(g)
}

// CastChunked casts every chunk to the target type, preserving chunk
// boundaries. Chunks are independent, so the work runs concurrently up
// to the given parallelism (values below 1 mean one chunk at a time).
func CastChunked(ctx context.Context, c *ChunkedArray, target Type, parallelism int) (*ChunkedArray, error) {
	out := make([]*Array, len(c.chunks))
	err := c.ForEachChunk(ctx, parallelism, func(_ context.Context, i int, chunk *Array) error {
		cast, err := chunk.Cast(target)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		out[i] = cast
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewChunkedArray(out)
}

// ForEachChunk runs fn over every chunk with bounded parallelism.
// Chunks are immutable and their buffers disjoint, so fn needs no
// locking for reads. The first error cancels the remaining work.
func (c *ChunkedArray) ForEachChunk(ctx context.Context, parallelism int, fn func(ctx context.Context, i int, chunk *Array) error) error {
	if parallelism < 1 {
		parallelism = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i := range c.chunks {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, i, c.chunks[i])
		})
	}
	return g.Wait()
}
