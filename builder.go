package geoarrow

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"
)

// Builder incrementally appends geometry values into growing buffers and
// finalizes them into an immutable Array. A builder is exclusively owned
// by one producer; it is not safe for concurrent Push. After Finish the
// builder is consumed and returns ErrBuilderFinished on further use.
type Builder interface {
	// Type returns the type of the array under construction.
	Type() Type
	// Len returns the number of elements appended so far.
	Len() int
	// Reserve pre-sizes buffers for n additional elements. It is an
	// optimization hint, never a correctness requirement.
	Reserve(n int)
	// Push appends one logical element; a nil geometry appends a null.
	// Concrete-typed builders fail with ErrGeometryTypeMismatch when the
	// input's runtime kind differs.
	Push(g orb.Geometry) error
	// Finish validates the buffers and returns the immutable Array.
	Finish() (*Array, error)
}

// NewBuilder returns a builder for arrays of type t.
func NewBuilder(t Type) (Builder, error) {
	return NewBuilderWithCapacity(t, 0)
}

// NewBuilderWithCapacity returns a builder pre-sized for n elements.
// Coordinate builders require XY types: orb geometries carry no Z or M
// values. Higher-dimension arrays are supported through import only.
func NewBuilderWithCapacity(t Type, n int) (Builder, error) {
	if !t.isSerialized() && t.Dim != DimXY {
		return nil, fmt.Errorf("%w: builders accept orb geometries, which are %s; declared %s", ErrDimensionMismatch, DimXY, t.Dim)
	}
	switch t.Geometry {
	case TypePoint:
		return &PointBuilder{base: newBase(t), coords: newCoordSink(t, n)}, nil
	case TypeLineString:
		return &LineStringBuilder{base: newBase(t), coords: newCoordSink(t, 2*n), offsets: newOffsets(n)}, nil
	case TypeMultiPoint:
		return &MultiPointBuilder{base: newBase(t), coords: newCoordSink(t, 2*n), offsets: newOffsets(n)}, nil
	case TypePolygon:
		return &PolygonBuilder{base: newBase(t), coords: newCoordSink(t, 4*n), geoms: newOffsets(n), rings: newOffsets(n)}, nil
	case TypeMultiLineString:
		return &MultiLineStringBuilder{base: newBase(t), coords: newCoordSink(t, 4*n), geoms: newOffsets(n), parts: newOffsets(n)}, nil
	case TypeMultiPolygon:
		return &MultiPolygonBuilder{base: newBase(t), coords: newCoordSink(t, 4*n), geoms: newOffsets(n), polys: newOffsets(n), rings: newOffsets(n)}, nil
	case TypeBox:
		return &BoxBuilder{base: newBase(t), coords: newCoordSink(t, 2*n)}, nil
	case TypeWKB:
		return &WKBBuilder{base: newBase(t), offsets: newOffsets(n)}, nil
	case TypeWKT:
		return &WKTBuilder{base: newBase(t), offsets: newOffsets(n)}, nil
	case TypeGeometryCollection:
		child, err := NewBuilderWithCapacity(Type{Geometry: TypeMixed, Dim: t.Dim, Layout: t.Layout}, n)
		if err != nil {
			return nil, err
		}
		return &CollectionBuilder{base: newBase(t), child: child.(*MixedBuilder), offsets: newOffsets(n)}, nil
	case TypeMixed:
		return newMixedBuilder(t, n), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, t.Geometry)
}

// KindOf returns the taxonomy member a runtime orb geometry belongs to.
// Rings classify as polygons and bounds as boxes.
func KindOf(g orb.Geometry) GeometryType {
	switch g.(type) {
	case orb.Point:
		return TypePoint
	case orb.MultiPoint:
		return TypeMultiPoint
	case orb.LineString:
		return TypeLineString
	case orb.MultiLineString:
		return TypeMultiLineString
	case orb.Ring:
		return TypePolygon
	case orb.Polygon:
		return TypePolygon
	case orb.MultiPolygon:
		return TypeMultiPolygon
	case orb.Collection:
		return TypeGeometryCollection
	case orb.Bound:
		return TypeBox
	default:
		return TypeUnknown
	}
}

func typeMismatch(want GeometryType, g orb.Geometry) error {
	return fmt.Errorf("%w: %s builder cannot accept %s", ErrGeometryTypeMismatch, want, KindOf(g))
}

// base carries the state shared by every builder variant: element count,
// validity bits and the consumed flag.
type base struct {
	typ      Type
	length   int
	validity *Bitmap
	nulls    int
	finished bool
}

func newBase(t Type) base {
	return base{typ: t, validity: NewBitmap(0)}
}

func (b *base) Type() Type { return b.typ }
func (b *base) Len() int   { return b.length }

func (b *base) checkOpen() error {
	if b.finished {
		return ErrBuilderFinished
	}
	return nil
}

// record marks the element appended by the caller as valid or null. It
// runs only after all child buffers were appended, so a failed Push
// leaves no partially-visible element.
func (b *base) record(valid bool) {
	b.validity.Append(valid)
	if !valid {
		b.nulls++
	}
	b.length++
}

// finishValidity drops the bitmap entirely when no nulls were appended.
func (b *base) finishValidity() *Bitmap {
	b.finished = true
	if b.nulls == 0 {
		return nil
	}
	return b.validity
}

// coordSink accumulates coordinate points in the type's physical layout.
type coordSink struct {
	layout CoordLayout
	bufs   [][]float64
}

func newCoordSink(t Type, capacity int) coordSink {
	if t.Layout == LayoutSeparated {
		return coordSink{layout: LayoutSeparated, bufs: [][]float64{
			make([]float64, 0, capacity),
			make([]float64, 0, capacity),
		}}
	}
	return coordSink{layout: LayoutInterleaved, bufs: [][]float64{make([]float64, 0, 2*capacity)}}
}

func (s *coordSink) push(p orb.Point) {
	if s.layout == LayoutSeparated {
		s.bufs[0] = append(s.bufs[0], p[0])
		s.bufs[1] = append(s.bufs[1], p[1])
		return
	}
	s.bufs[0] = append(s.bufs[0], p[0], p[1])
}

func (s *coordSink) count() int {
	if s.layout == LayoutSeparated {
		return len(s.bufs[0])
	}
	return len(s.bufs[0]) / 2
}

// newOffsets returns an offset buffer primed with the leading zero.
func newOffsets(capacity int) []int32 {
	o := make([]int32, 1, capacity+1)
	return o
}

func growOffsets(o []int32, n int) []int32 {
	if cap(o)-len(o) >= n {
		return o
	}
	out := make([]int32, len(o), len(o)+n)
	copy(out, o)
	return out
}

var nanPoint = orb.Point{math.NaN(), math.NaN()}

// PointBuilder builds Point arrays. Nulls occupy one coordinate slot of
// NaN values since the point layout has no offset buffer.
type PointBuilder struct {
	base
	coords coordSink
}

func (b *PointBuilder) Reserve(n int) {}

func (b *PointBuilder) Push(g orb.Geometry) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if g == nil {
		b.coords.push(nanPoint)
		b.record(false)
		return nil
	}
	p, ok := g.(orb.Point)
	if !ok {
		return typeMismatch(TypePoint, g)
	}
	b.coords.push(p)
	b.record(true)
	return nil
}

func (b *PointBuilder) Finish() (*Array, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return finishArray(b.typ, b.length, Buffers{Coords: b.coords.bufs, Validity: b.finishValidity()}, nil)
}

// LineStringBuilder builds LineString arrays.
type LineStringBuilder struct {
	base
	coords  coordSink
	offsets []int32
}

func (b *LineStringBuilder) Reserve(n int) { b.offsets = growOffsets(b.offsets, n) }

func (b *LineStringBuilder) Push(g orb.Geometry) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if g == nil {
		b.offsets = append(b.offsets, int32(b.coords.count()))
		b.record(false)
		return nil
	}
	ls, ok := g.(orb.LineString)
	if !ok {
		return typeMismatch(TypeLineString, g)
	}
	for _, p := range ls {
		b.coords.push(p)
	}
	b.offsets = append(b.offsets, int32(b.coords.count()))
	b.record(true)
	return nil
}

func (b *LineStringBuilder) Finish() (*Array, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return finishArray(b.typ, b.length, Buffers{
		Coords:   b.coords.bufs,
		Offsets:  [][]int32{b.offsets},
		Validity: b.finishValidity(),
	}, nil)
}

// MultiPointBuilder builds MultiPoint arrays.
type MultiPointBuilder struct {
	base
	coords  coordSink
	offsets []int32
}

func (b *MultiPointBuilder) Reserve(n int) { b.offsets = growOffsets(b.offsets, n) }

func (b *MultiPointBuilder) Push(g orb.Geometry) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if g == nil {
		b.offsets = append(b.offsets, int32(b.coords.count()))
		b.record(false)
		return nil
	}
	mp, ok := g.(orb.MultiPoint)
	if !ok {
		return typeMismatch(TypeMultiPoint, g)
	}
	for _, p := range mp {
		b.coords.push(p)
	}
	b.offsets = append(b.offsets, int32(b.coords.count()))
	b.record(true)
	return nil
}

func (b *MultiPointBuilder) Finish() (*Array, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return finishArray(b.typ, b.length, Buffers{
		Coords:   b.coords.bufs,
		Offsets:  [][]int32{b.offsets},
		Validity: b.finishValidity(),
	}, nil)
}

// PolygonBuilder builds Polygon arrays. Rings are accepted as one-ring
// polygons and bounds as their rectangle polygons.
type PolygonBuilder struct {
	base
	coords coordSink
	geoms  []int32 // rings per polygon
	rings  []int32 // coordinates per ring
}

func (b *PolygonBuilder) Reserve(n int) { b.geoms = growOffsets(b.geoms, n) }

func (b *PolygonBuilder) Push(g orb.Geometry) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if g == nil {
		b.geoms = append(b.geoms, int32(len(b.rings)-1))
		b.record(false)
		return nil
	}
	var poly orb.Polygon
	switch v := g.(type) {
	case orb.Polygon:
		poly = v
	case orb.Ring:
		poly = orb.Polygon{v}
	case orb.Bound:
		poly = boundToPolygon(v)
	default:
		return typeMismatch(TypePolygon, g)
	}
	b.appendPolygon(poly)
	b.record(true)
	return nil
}

func (b *PolygonBuilder) appendPolygon(poly orb.Polygon) {
	for _, ring := range poly {
		for _, p := range ring {
			b.coords.push(p)
		}
		b.rings = append(b.rings, int32(b.coords.count()))
	}
	b.geoms = append(b.geoms, int32(len(b.rings)-1))
}

func (b *PolygonBuilder) Finish() (*Array, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return finishArray(b.typ, b.length, Buffers{
		Coords:   b.coords.bufs,
		Offsets:  [][]int32{b.geoms, b.rings},
		Validity: b.finishValidity(),
	}, nil)
}

// MultiLineStringBuilder builds MultiLineString arrays.
type MultiLineStringBuilder struct {
	base
	coords coordSink
	geoms  []int32 // linestrings per geometry
	parts  []int32 // coordinates per linestring
}

func (b *MultiLineStringBuilder) Reserve(n int) { b.geoms = growOffsets(b.geoms, n) }

func (b *MultiLineStringBuilder) Push(g orb.Geometry) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if g == nil {
		b.geoms = append(b.geoms, int32(len(b.parts)-1))
		b.record(false)
		return nil
	}
	mls, ok := g.(orb.MultiLineString)
	if !ok {
		return typeMismatch(TypeMultiLineString, g)
	}
	for _, ls := range mls {
		for _, p := range ls {
			b.coords.push(p)
		}
		b.parts = append(b.parts, int32(b.coords.count()))
	}
	b.geoms = append(b.geoms, int32(len(b.parts)-1))
	b.record(true)
	return nil
}

func (b *MultiLineStringBuilder) Finish() (*Array, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return finishArray(b.typ, b.length, Buffers{
		Coords:   b.coords.bufs,
		Offsets:  [][]int32{b.geoms, b.parts},
		Validity: b.finishValidity(),
	}, nil)
}

// MultiPolygonBuilder builds MultiPolygon arrays with the full
// three-level nesting: polygons per geometry, rings per polygon,
// coordinates per ring.
type MultiPolygonBuilder struct {
	base
	coords coordSink
	geoms  []int32
	polys  []int32
	rings  []int32
}

func (b *MultiPolygonBuilder) Reserve(n int) { b.geoms = growOffsets(b.geoms, n) }

func (b *MultiPolygonBuilder) Push(g orb.Geometry) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if g == nil {
		b.geoms = append(b.geoms, int32(len(b.polys)-1))
		b.record(false)
		return nil
	}
	mp, ok := g.(orb.MultiPolygon)
	if !ok {
		return typeMismatch(TypeMultiPolygon, g)
	}
	for _, poly := range mp {
		for _, ring := range poly {
			for _, p := range ring {
				b.coords.push(p)
			}
			b.rings = append(b.rings, int32(b.coords.count()))
		}
		b.polys = append(b.polys, int32(len(b.rings)-1))
	}
	b.geoms = append(b.geoms, int32(len(b.polys)-1))
	b.record(true)
	return nil
}

func (b *MultiPolygonBuilder) Finish() (*Array, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return finishArray(b.typ, b.length, Buffers{
		Coords:   b.coords.bufs,
		Offsets:  [][]int32{b.geoms, b.polys, b.rings},
		Validity: b.finishValidity(),
	}, nil)
}

// BoxBuilder builds arrays of axis-aligned bounding rectangles: two
// coordinate points (min, max) per element, no offset buffers.
type BoxBuilder struct {
	base
	coords coordSink
}

func (b *BoxBuilder) Reserve(n int) {}

func (b *BoxBuilder) Push(g orb.Geometry) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if g == nil {
		b.coords.push(nanPoint)
		b.coords.push(nanPoint)
		b.record(false)
		return nil
	}
	bound, ok := g.(orb.Bound)
	if !ok {
		return typeMismatch(TypeBox, g)
	}
	b.coords.push(bound.Min)
	b.coords.push(bound.Max)
	b.record(true)
	return nil
}

func (b *BoxBuilder) Finish() (*Array, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return finishArray(b.typ, b.length, Buffers{Coords: b.coords.bufs, Validity: b.finishValidity()}, nil)
}

// WKBBuilder builds arrays of Well-Known Binary encoded geometries.
// Push serializes orb geometries in little-endian WKB; PushRaw appends
// pre-encoded bytes unexamined (they are validated when parsed).
type WKBBuilder struct {
	base
	data    []byte
	offsets []int32
}

func (b *WKBBuilder) Reserve(n int) { b.offsets = growOffsets(b.offsets, n) }

func (b *WKBBuilder) Push(g orb.Geometry) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if g == nil {
		b.offsets = append(b.offsets, int32(len(b.data)))
		b.record(false)
		return nil
	}
	data, err := wkb.Marshal(g)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrGeometryTypeMismatch, err)
	}
	b.data = append(b.data, data...)
	b.offsets = append(b.offsets, int32(len(b.data)))
	b.record(true)
	return nil
}

// PushRaw appends one pre-encoded WKB element.
func (b *WKBBuilder) PushRaw(data []byte) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	b.data = append(b.data, data...)
	b.offsets = append(b.offsets, int32(len(b.data)))
	b.record(true)
	return nil
}

func (b *WKBBuilder) Finish() (*Array, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return finishArray(b.typ, b.length, Buffers{
		Data:     b.data,
		Offsets:  [][]int32{b.offsets},
		Validity: b.finishValidity(),
	}, nil)
}

// WKTBuilder builds arrays of Well-Known Text encoded geometries.
type WKTBuilder struct {
	base
	data    []byte
	offsets []int32
}

func (b *WKTBuilder) Reserve(n int) { b.offsets = growOffsets(b.offsets, n) }

func (b *WKTBuilder) Push(g orb.Geometry) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if g == nil {
		b.offsets = append(b.offsets, int32(len(b.data)))
		b.record(false)
		return nil
	}
	b.data = append(b.data, wkt.MarshalString(g)...)
	b.offsets = append(b.offsets, int32(len(b.data)))
	b.record(true)
	return nil
}

// PushRaw appends one pre-encoded WKT element.
func (b *WKTBuilder) PushRaw(s string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	b.data = append(b.data, s...)
	b.offsets = append(b.offsets, int32(len(b.data)))
	b.record(true)
	return nil
}

func (b *WKTBuilder) Finish() (*Array, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return finishArray(b.typ, b.length, Buffers{
		Data:     b.data,
		Offsets:  [][]int32{b.offsets},
		Validity: b.finishValidity(),
	}, nil)
}

// CollectionBuilder builds GeometryCollection arrays: one offset level
// over a heterogeneous backing store shared by all collections.
type CollectionBuilder struct {
	base
	child   *MixedBuilder
	offsets []int32
}

func (b *CollectionBuilder) Reserve(n int) { b.offsets = growOffsets(b.offsets, n) }

func (b *CollectionBuilder) Push(g orb.Geometry) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if g == nil {
		b.offsets = append(b.offsets, int32(b.child.Len()))
		b.record(false)
		return nil
	}
	coll, ok := g.(orb.Collection)
	if !ok {
		return typeMismatch(TypeGeometryCollection, g)
	}
	// Reject unsupported members before appending anything so a failed
	// Push leaves no orphaned entries in the backing store.
	for _, member := range coll {
		if member != nil && KindOf(member) == TypeUnknown {
			return typeMismatch(TypeGeometryCollection, member)
		}
	}
	for _, member := range coll {
		if err := b.child.Push(member); err != nil {
			return err
		}
	}
	b.offsets = append(b.offsets, int32(b.child.Len()))
	b.record(true)
	return nil
}

func (b *CollectionBuilder) Finish() (*Array, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	storage, err := b.child.Finish()
	if err != nil {
		return nil, err
	}
	return finishArray(b.typ, b.length, Buffers{
		Offsets:  [][]int32{b.offsets},
		Validity: b.finishValidity(),
	}, []*Array{storage})
}

// finishArray assembles the final Array and runs validation as a cheap
// invariant check; builder-produced buffers satisfy the invariants by
// construction.
func finishArray(t Type, length int, bufs Buffers, children []*Array) (*Array, error) {
	a := newArray(t, length, bufs, children)
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func boundToPolygon(b orb.Bound) orb.Polygon {
	return orb.Polygon{
		orb.Ring{
			{b.Min[0], b.Min[1]},
			{b.Max[0], b.Min[1]},
			{b.Max[0], b.Max[1]},
			{b.Min[0], b.Max[1]},
			{b.Min[0], b.Min[1]},
		},
	}
}
