package geoarrow

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Array is an immutable, sliceable view over a finalized buffer layout
// plus its Type. Arrays are produced by builders, by casts, or by
// importing externally constructed buffers; once constructed they are
// safe for concurrent reads with no locking.
type Array struct {
	typ    Type
	offset int
	length int
	bufs   Buffers

	// children holds the per-variant arrays of a Mixed array or the
	// single backing storage of a GeometryCollection.
	children []*Array
}

// NewArray wraps externally constructed buffers into an Array after
// exhaustively validating them. A validation failure returns a nil
// Array, preventing all subsequent access.
func NewArray(t Type, length int, bufs Buffers, children []*Array) (*Array, error) {
	a := &Array{typ: t, length: length, bufs: bufs, children: children}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// newArray wraps builder-produced buffers, which are valid by
// construction.
func newArray(t Type, length int, bufs Buffers, children []*Array) *Array {
	return &Array{typ: t, length: length, bufs: bufs, children: children}
}

// Validate checks all buffer invariants for this array and, recursively,
// its children. It reads offset buffers only, never coordinates.
func (a *Array) Validate() error {
	if a.offset < 0 || a.length < 0 {
		return &InvalidBufferLayoutError{Level: -1, Reason: fmt.Sprintf("negative window [%d, %d)", a.offset, a.offset+a.length)}
	}
	childLens := make([]int, len(a.children))
	for i, c := range a.children {
		if err := c.Validate(); err != nil {
			return err
		}
		childLens[i] = c.length
	}
	full, err := a.bufs.fullLength(a.typ)
	if err != nil {
		return err
	}
	if a.offset+a.length > full {
		return &InvalidBufferLayoutError{Level: -1, Reason: fmt.Sprintf("window [%d, %d) exceeds %d buffered elements", a.offset, a.offset+a.length, full)}
	}
	return a.bufs.Validate(a.typ, full, childLens)
}

// Type returns the array's type descriptor.
func (a *Array) Type() Type { return a.typ }

// Len returns the number of logical elements.
func (a *Array) Len() int { return a.length }

// NullCount returns the number of null elements in the current window.
func (a *Array) NullCount() int {
	if a.bufs.Validity == nil {
		return 0
	}
	n := 0
	for i := 0; i < a.length; i++ {
		if !a.bufs.Validity.Bit(a.offset + i) {
			n++
		}
	}
	return n
}

// IsNull reports whether element i is null.
func (a *Array) IsNull(i int) bool {
	a.boundsCheck(i)
	return a.bufs.Validity != nil && !a.bufs.Validity.Bit(a.offset+i)
}

// Slice returns a new Array sharing all buffers, windowed to
// [offset, offset+length). Slices compose: a.Slice(o1,l1).Slice(o2,l2)
// sees the same elements as a.Slice(o1+o2, l2).
func (a *Array) Slice(offset, length int) (*Array, error) {
	if offset < 0 || length < 0 || offset+length > a.length {
		return nil, fmt.Errorf("%w: slice [%d, %d) of %d elements", ErrOutOfBounds, offset, offset+length, a.length)
	}
	s := *a
	s.offset = a.offset + offset
	s.length = length
	return &s, nil
}

// Value returns a zero-copy accessor for element i. It panics if i is
// out of range; use Len to guard.
func (a *Array) Value(i int) Value {
	a.boundsCheck(i)
	return Value{a: a, phys: a.offset + i}
}

// Geometry materializes element i as an orb.Geometry. Null elements
// return nil. Materializing requires XY coordinates; arrays of other
// dimensions are readable only through the raw accessor.
func (a *Array) Geometry(i int) (orb.Geometry, error) {
	return a.Value(i).Geometry()
}

func (a *Array) boundsCheck(i int) {
	if i < 0 || i >= a.length {
		panic(fmt.Sprintf("geoarrow: index %d out of bounds [0, %d)", i, a.length))
	}
}

// coordPoint returns the coordinate values of point j (an absolute index
// into the coordinate buffers).
func (a *Array) coordPoint(j int) (x, y float64) {
	if a.typ.Layout == LayoutInterleaved {
		base := j * a.typ.Dim.Size()
		return a.bufs.Coords[0][base], a.bufs.Coords[0][base+1]
	}
	return a.bufs.Coords[0][j], a.bufs.Coords[1][j]
}

// coordValues appends all axis values of point j to dst.
func (a *Array) coordValues(dst []float64, j int) []float64 {
	size := a.typ.Dim.Size()
	if a.typ.Layout == LayoutInterleaved {
		return append(dst, a.bufs.Coords[0][j*size:(j+1)*size]...)
	}
	for axis := 0; axis < size; axis++ {
		dst = append(dst, a.bufs.Coords[axis][j])
	}
	return dst
}

// coordRange resolves the [start, end) coordinate-point range of the
// element at physical index phys. ok is false for the indirect variants
// (Mixed, GeometryCollection, WKB, WKT) which do not address the
// coordinate buffers directly.
func (a *Array) coordRange(phys int) (start, end int, ok bool) {
	switch a.typ.Geometry {
	case TypePoint:
		return phys, phys + 1, true
	case TypeBox:
		return 2 * phys, 2*phys + 2, true
	}
	depth := a.typ.Geometry.Depth()
	if depth < 1 {
		return 0, 0, false
	}
	start, end = phys, phys+1
	for l := 0; l < depth; l++ {
		offs := a.bufs.Offsets[l]
		start, end = int(offs[start]), int(offs[end])
	}
	return start, end, true
}

// bytesRange returns the Data byte range of the element at physical
// index phys for the WKB and WKT variants.
func (a *Array) bytesRange(phys int) (start, end int) {
	offs := a.bufs.Offsets[0]
	return int(offs[phys]), int(offs[phys+1])
}

// resolve follows the indirection of Mixed and returns the concrete
// array and physical index holding the element at phys.
func (a *Array) resolve(phys int) (*Array, int) {
	if a.typ.Geometry != TypeMixed {
		return a, phys
	}
	child := a.children[a.bufs.TypeIDs[phys]]
	return child.resolve(child.offset + int(a.bufs.ValueOffsets[phys]))
}

// Bound returns the combined bounding box of all non-null elements, or
// the zero bound when none contribute. Serialized (WKB/WKT) elements
// are decoded to compute their bounds.
func (a *Array) Bound() (orb.Bound, error) {
	bound := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	contributed := false
	for i := 0; i < a.length; i++ {
		if a.IsNull(i) {
			continue
		}
		vb, err := a.Value(i).Bound()
		if err != nil {
			return orb.Bound{}, err
		}
		bound = bound.Union(vb)
		contributed = true
	}
	if !contributed {
		return orb.Bound{}, nil
	}
	return bound, nil
}

// Equal reports whether o has the same type, the same nulls, and
// bit-exact equal elements. Different windows over the same buffers
// compare logically.
func (a *Array) Equal(o *Array) bool {
	if o == nil || !a.typ.Equal(o.typ) || a.length != o.length {
		return false
	}
	for i := 0; i < a.length; i++ {
		an, on := a.IsNull(i), o.IsNull(i)
		if an != on {
			return false
		}
		if an {
			continue
		}
		if !valueEqual(a, a.offset+i, o, o.offset+i) {
			return false
		}
	}
	return true
}

// valueEqual compares single elements at physical indices, resolving
// Mixed indirection on either side.
func valueEqual(a *Array, ai int, o *Array, oi int) bool {
	a, ai = a.resolve(ai)
	o, oi = o.resolve(oi)
	if a.typ.Geometry != o.typ.Geometry {
		return false
	}

	switch a.typ.Geometry {
	case TypeWKB, TypeWKT:
		as, ae := a.bytesRange(ai)
		os, oe := o.bytesRange(oi)
		return string(a.bufs.Data[as:ae]) == string(o.bufs.Data[os:oe])

	case TypeGeometryCollection:
		aOffs, oOffs := a.bufs.Offsets[0], o.bufs.Offsets[0]
		if aOffs[ai+1]-aOffs[ai] != oOffs[oi+1]-oOffs[oi] {
			return false
		}
		ac, oc := a.children[0], o.children[0]
		for k := int32(0); k < aOffs[ai+1]-aOffs[ai]; k++ {
			if !valueEqual(ac, ac.offset+int(aOffs[ai]+k), oc, oc.offset+int(oOffs[oi]+k)) {
				return false
			}
		}
		return true
	}

	// Concrete coordinate variants: compare the per-level child counts,
	// then the coordinate values bit-exact.
	depth := a.typ.Geometry.Depth()
	aStart, aEnd := ai, ai+1
	oStart, oEnd := oi, oi+1
	for l := 0; l < depth; l++ {
		aOffs, oOffs := a.bufs.Offsets[l], o.bufs.Offsets[l]
		if aEnd-aStart != oEnd-oStart {
			return false
		}
		for k := 0; k < aEnd-aStart; k++ {
			if aOffs[aStart+k+1]-aOffs[aStart+k] != oOffs[oStart+k+1]-oOffs[oStart+k] {
				return false
			}
		}
		aStart, aEnd = int(aOffs[aStart]), int(aOffs[aEnd])
		oStart, oEnd = int(oOffs[oStart]), int(oOffs[oEnd])
	}
	if a.typ.Geometry == TypeBox {
		aStart, aEnd = 2*ai, 2*ai+2
		oStart, oEnd = 2*oi, 2*oi+2
	}
	if aEnd-aStart != oEnd-oStart {
		return false
	}

	size := a.typ.Dim.Size()
	var abuf, obuf []float64
	for j := 0; j < aEnd-aStart; j++ {
		abuf = a.coordValues(abuf[:0], aStart+j)
		obuf = o.coordValues(obuf[:0], oStart+j)
		for v := 0; v < size; v++ {
			if math.Float64bits(abuf[v]) != math.Float64bits(obuf[v]) {
				return false
			}
		}
	}
	return true
}

// Value is a zero-copy accessor over one array element. It references
// the array's buffers and materializes nothing until Geometry is called.
type Value struct {
	a    *Array
	phys int
}

// IsNull reports whether the element is null.
func (v Value) IsNull() bool {
	return v.a.bufs.Validity != nil && !v.a.bufs.Validity.Bit(v.phys)
}

// Kind returns the element's runtime geometry kind, resolving Mixed
// indirection. Serialized elements report their array's encoding kind.
func (v Value) Kind() GeometryType {
	a, _ := v.a.resolve(v.phys)
	return a.typ.Geometry
}

// NumCoords returns the number of coordinate points spanned by the
// element, across all nesting levels. Serialized elements report 0.
func (v Value) NumCoords() int {
	a, phys := v.a.resolve(v.phys)
	if a.typ.Geometry == TypeGeometryCollection {
		n := 0
		offs := a.bufs.Offsets[0]
		child := a.children[0]
		for k := offs[phys]; k < offs[phys+1]; k++ {
			n += Value{a: child, phys: child.offset + int(k)}.NumCoords()
		}
		return n
	}
	start, end, ok := a.coordRange(phys)
	if !ok {
		return 0
	}
	return end - start
}

// Coord returns the axis values of the element's j-th coordinate point
// in element-local order. The returned slice is freshly allocated.
func (v Value) Coord(j int) []float64 {
	a, phys := v.a.resolve(v.phys)
	start, end, ok := a.coordRange(phys)
	if !ok || j < 0 || j >= end-start {
		panic(fmt.Sprintf("geoarrow: coordinate %d out of bounds", j))
	}
	return a.coordValues(nil, start+j)
}

// Bound returns the element's bounding box. Serialized elements are
// decoded; coordinate elements are scanned without materializing.
func (v Value) Bound() (orb.Bound, error) {
	a, phys := v.a.resolve(v.phys)
	switch a.typ.Geometry {
	case TypeWKB, TypeWKT, TypeGeometryCollection:
		g, err := v.Geometry()
		if err != nil {
			return orb.Bound{}, err
		}
		if g == nil {
			return orb.Bound{}, nil
		}
		return g.Bound(), nil
	}
	start, end, _ := a.coordRange(phys)
	b := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for j := start; j < end; j++ {
		x, y := a.coordPoint(j)
		b = b.Extend(orb.Point{x, y})
	}
	return b, nil
}

// Geometry materializes the element as an orb.Geometry; null elements
// return nil. Coordinate arrays must be XY since orb carries no Z or M
// values; other dimensions fail with ErrDimensionMismatch.
func (v Value) Geometry() (orb.Geometry, error) {
	if v.IsNull() {
		return nil, nil
	}
	a, phys := v.a.resolve(v.phys)

	switch a.typ.Geometry {
	case TypeWKB:
		s, e := a.bytesRange(phys)
		g, _, err := decodeWKB(a.bufs.Data[s:e])
		if err != nil {
			return nil, err
		}
		return g, nil
	case TypeWKT:
		s, e := a.bytesRange(phys)
		return decodeWKT(string(a.bufs.Data[s:e]))
	}

	if a.typ.Dim != DimXY {
		return nil, fmt.Errorf("%w: cannot materialize %s coordinates as orb geometry", ErrDimensionMismatch, a.typ.Dim)
	}

	switch a.typ.Geometry {
	case TypePoint:
		x, y := a.coordPoint(phys)
		return orb.Point{x, y}, nil

	case TypeBox:
		minX, minY := a.coordPoint(2 * phys)
		maxX, maxY := a.coordPoint(2*phys + 1)
		return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}, nil

	case TypeLineString:
		return orb.LineString(a.points(phys)), nil

	case TypeMultiPoint:
		return orb.MultiPoint(a.points(phys)), nil

	case TypePolygon:
		return a.polygonAt(0, phys), nil

	case TypeMultiLineString:
		offs := a.bufs.Offsets[0]
		mls := make(orb.MultiLineString, 0, offs[phys+1]-offs[phys])
		for part := offs[phys]; part < offs[phys+1]; part++ {
			mls = append(mls, orb.LineString(a.pointsAt(1, int(part))))
		}
		return mls, nil

	case TypeMultiPolygon:
		offs := a.bufs.Offsets[0]
		mp := make(orb.MultiPolygon, 0, offs[phys+1]-offs[phys])
		for part := offs[phys]; part < offs[phys+1]; part++ {
			mp = append(mp, a.polygonAt(1, int(part)))
		}
		return mp, nil

	case TypeGeometryCollection:
		offs := a.bufs.Offsets[0]
		child := a.children[0]
		coll := make(orb.Collection, 0, offs[phys+1]-offs[phys])
		for k := offs[phys]; k < offs[phys+1]; k++ {
			g, err := Value{a: child, phys: child.offset + int(k)}.Geometry()
			if err != nil {
				return nil, err
			}
			coll = append(coll, g)
		}
		return coll, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, a.typ.Geometry)
}

// points gathers the level-0 child points of element phys (LineString
// and MultiPoint layouts).
func (a *Array) points(phys int) []orb.Point {
	return a.pointsAt(0, phys)
}

// pointsAt gathers the points delimited by entry i of offset level l.
func (a *Array) pointsAt(l, i int) []orb.Point {
	offs := a.bufs.Offsets[l]
	pts := make([]orb.Point, 0, offs[i+1]-offs[i])
	for j := offs[i]; j < offs[i+1]; j++ {
		x, y := a.coordPoint(int(j))
		pts = append(pts, orb.Point{x, y})
	}
	return pts
}

// polygonAt assembles the polygon delimited by entry i of offset level
// l, whose rings live at level l+1.
func (a *Array) polygonAt(l, i int) orb.Polygon {
	ringOffs := a.bufs.Offsets[l]
	poly := make(orb.Polygon, 0, ringOffs[i+1]-ringOffs[i])
	for r := ringOffs[i]; r < ringOffs[i+1]; r++ {
		poly = append(poly, orb.Ring(a.pointsAt(l+1, int(r))))
	}
	return poly
}
