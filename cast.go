package geoarrow

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"
)

const (
	ewkbZFlag    = 0x80000000
	ewkbMFlag    = 0x40000000
	ewkbSRIDFlag = 0x20000000
)

// decodeWKB parses one WKB element, accepting both byte orders and the
// SRID-tagged extended (EWKB) variant. Truncation and unrecognized
// geometry-kind tags are reported as GeometryParseError with the byte
// offset of the violation.
func decodeWKB(data []byte) (orb.Geometry, int, error) {
	if len(data) < 5 {
		return nil, 0, &GeometryParseError{Index: -1, Offset: len(data), Reason: "truncated header"}
	}
	var order binary.ByteOrder
	switch data[0] {
	case 0:
		order = binary.BigEndian
	case 1:
		order = binary.LittleEndian
	default:
		return nil, 0, &GeometryParseError{Index: -1, Offset: 0, Reason: fmt.Sprintf("unknown byte order %#x", data[0])}
	}

	code := order.Uint32(data[1:5])
	hasSRID := code&ewkbSRIDFlag != 0
	base := code &^ uint32(ewkbZFlag|ewkbMFlag|ewkbSRIDFlag)
	base %= 1000 // ISO variants add 1000/2000/3000 to the kind tag
	if base < 1 || base > 7 {
		return nil, 0, &GeometryParseError{Index: -1, Offset: 1, Reason: fmt.Sprintf("unrecognized geometry kind tag %d", code)}
	}

	if hasSRID {
		g, srid, err := ewkb.Unmarshal(data)
		if err != nil {
			return nil, 0, &GeometryParseError{Index: -1, Offset: 0, Reason: err.Error(), cause: err}
		}
		return g, srid, nil
	}
	g, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, 0, &GeometryParseError{Index: -1, Offset: 0, Reason: err.Error(), cause: err}
	}
	return g, 0, nil
}

// decodeWKT parses one WKT element.
func decodeWKT(s string) (orb.Geometry, error) {
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, &GeometryParseError{Index: -1, Offset: 0, Reason: err.Error(), cause: err}
	}
	return g, nil
}

// Cast produces a new Array of the target type. Legal casts: identity
// (including metadata and coordinate-layout changes), any type to WKB or
// WKT (serialize), WKB or WKT to any type (parse), any concrete type to
// Mixed (promotion) and Mixed to a concrete type (downcast).
func (a *Array) Cast(target Type) (*Array, error) {
	src := a.typ

	switch {
	case src.Geometry == target.Geometry:
		if src.Dim != target.Dim {
			return nil, fmt.Errorf("%w: cannot cast %s to %s", ErrDimensionMismatch, src.Dim, target.Dim)
		}
		if src.Layout != target.Layout {
			return a.castLayout(target)
		}
		// Metadata-only change: rewrap the shared buffers.
		s := *a
		s.typ = target
		return &s, nil

	case target.isSerialized():
		return a.serializeInto(target)

	case src.isSerialized():
		return a.parseInto(target)

	case target.Geometry == TypeMixed:
		return a.promote(target)

	case src.Geometry == TypeMixed:
		return a.downcast(target)
	}
	return nil, fmt.Errorf("%w: cannot cast %s to %s", ErrGeometryTypeMismatch, src.Geometry, target.Geometry)
}

// ToWKB serializes the array into a WKB array carrying the same
// metadata.
func (a *Array) ToWKB() (*Array, error) {
	return a.Cast(Type{Geometry: TypeWKB, Meta: a.typ.Meta})
}

// ToWKT serializes the array into a WKT array carrying the same
// metadata.
func (a *Array) ToWKT() (*Array, error) {
	return a.Cast(Type{Geometry: TypeWKT, Meta: a.typ.Meta})
}

// FromWKB parses a WKB array into the target type.
func FromWKB(a *Array, target Type) (*Array, error) {
	if a.typ.Geometry != TypeWKB {
		return nil, fmt.Errorf("%w: source is %s, not %s", ErrGeometryTypeMismatch, a.typ.Geometry, TypeWKB)
	}
	return a.Cast(target)
}

// FromWKT parses a WKT array into the target type.
func FromWKT(a *Array, target Type) (*Array, error) {
	if a.typ.Geometry != TypeWKT {
		return nil, fmt.Errorf("%w: source is %s, not %s", ErrGeometryTypeMismatch, a.typ.Geometry, TypeWKT)
	}
	return a.Cast(target)
}

// castLayout rewrites the coordinate buffers between interleaved and
// separated form. Offset buffers are shared unchanged; only coordinates
// are copied. The heterogeneous variants rebuild through their elements.
func (a *Array) castLayout(target Type) (*Array, error) {
	switch a.typ.Geometry {
	case TypeMixed, TypeGeometryCollection:
		return a.rebuildInto(target)
	case TypeWKB, TypeWKT:
		s := *a
		s.typ = target
		return &s, nil
	}

	n, err := a.bufs.coordCount(a.typ)
	if err != nil {
		return nil, err
	}
	size := a.typ.Dim.Size()
	bufs := a.bufs
	if target.Layout == LayoutSeparated {
		axes := make([][]float64, size)
		for ax := range axes {
			axes[ax] = make([]float64, n)
		}
		for j := 0; j < n; j++ {
			for ax := 0; ax < size; ax++ {
				axes[ax][j] = a.bufs.Coords[0][j*size+ax]
			}
		}
		bufs.Coords = axes
	} else {
		flat := make([]float64, 0, n*size)
		for j := 0; j < n; j++ {
			for ax := 0; ax < size; ax++ {
				flat = append(flat, a.bufs.Coords[ax][j])
			}
		}
		bufs.Coords = [][]float64{flat}
	}
	out := *a
	out.typ = target
	out.bufs = bufs
	return &out, nil
}

// serializeInto encodes every element of the array into a WKB or WKT
// array.
func (a *Array) serializeInto(target Type) (*Array, error) {
	b, err := NewBuilderWithCapacity(target, a.length)
	if err != nil {
		return nil, err
	}
	for i := 0; i < a.length; i++ {
		g, err := a.Geometry(i)
		if err != nil {
			return nil, err
		}
		if err := b.Push(g); err != nil {
			return nil, err
		}
	}
	return b.Finish()
}

// parseInto decodes a WKB or WKT array into the target type, failing
// with GeometryParseError on malformed input and with
// ErrGeometryTypeMismatch when a parsed kind disagrees with a non-Mixed
// target.
func (a *Array) parseInto(target Type) (*Array, error) {
	b, err := NewBuilderWithCapacity(target, a.length)
	if err != nil {
		return nil, err
	}
	for i := 0; i < a.length; i++ {
		if a.IsNull(i) {
			if err := b.Push(nil); err != nil {
				return nil, err
			}
			continue
		}
		s, e := a.bytesRange(a.offset + i)
		var g orb.Geometry
		if a.typ.Geometry == TypeWKB {
			g, _, err = decodeWKB(a.bufs.Data[s:e])
		} else {
			g, err = decodeWKT(string(a.bufs.Data[s:e]))
		}
		if err != nil {
			var pe *GeometryParseError
			if errors.As(err, &pe) {
				pe.Index = i
			}
			return nil, err
		}
		if target.Geometry != TypeMixed && KindOf(g) != target.Geometry {
			return nil, fmt.Errorf("%w: element %d parsed as %s, target is %s", ErrGeometryTypeMismatch, i, KindOf(g), target.Geometry)
		}
		if err := b.Push(g); err != nil {
			return nil, err
		}
	}
	return b.Finish()
}

// promote wraps a concrete array as a single-variant Mixed array. No
// coordinate buffers are copied; the source array becomes the only
// child. Box arrays and layout changes are the exceptions and rebuild
// element by element: bounds materialize as their rectangle polygons,
// matching MixedBuilder.
func (a *Array) promote(target Type) (*Array, error) {
	if target.Dim != a.typ.Dim {
		return nil, fmt.Errorf("%w: cannot cast %s to %s", ErrDimensionMismatch, a.typ.Dim, target.Dim)
	}
	if a.typ.Geometry == TypeBox || target.Layout != a.typ.Layout {
		return a.rebuildInto(target)
	}

	child := *a
	child.typ = Type{Geometry: a.typ.Geometry, Dim: a.typ.Dim, Layout: a.typ.Layout}

	typeIDs := make([]int8, a.length)
	valueOffsets := make([]int32, a.length)
	var validity *Bitmap
	if a.bufs.Validity != nil {
		validity = NewBitmap(a.length)
		for i := 0; i < a.length; i++ {
			validity.Append(!a.IsNull(i))
		}
	}
	for i := range valueOffsets {
		valueOffsets[i] = int32(i)
	}
	return finishArray(target, a.length, Buffers{
		TypeIDs:      typeIDs,
		ValueOffsets: valueOffsets,
		Validity:     validity,
	}, []*Array{&child})
}

// downcast narrows a Mixed array to a concrete type. It succeeds only
// if every non-null element's runtime kind matches the target, failing
// with DowncastError naming the first mismatching index.
func (a *Array) downcast(target Type) (*Array, error) {
	if target.Dim != a.typ.Dim {
		return nil, fmt.Errorf("%w: cannot cast %s to %s", ErrDimensionMismatch, a.typ.Dim, target.Dim)
	}
	for i := 0; i < a.length; i++ {
		if a.IsNull(i) {
			continue
		}
		child, _ := a.resolve(a.offset + i)
		if child.typ.Geometry != target.Geometry {
			return nil, &DowncastError{Index: i, Want: target.Geometry, Got: child.typ.Geometry}
		}
	}

	// Single variant addressed contiguously with no nulls: rewrap the
	// child without copying.
	if a.bufs.Validity == nil && len(a.children) == 1 &&
		a.children[0].typ.Geometry == target.Geometry &&
		a.children[0].typ.Dim == target.Dim &&
		a.children[0].typ.Layout == target.Layout {
		contiguous := true
		for i := 0; i < a.length; i++ {
			if a.bufs.ValueOffsets[a.offset+i] != a.bufs.ValueOffsets[a.offset]+int32(i) {
				contiguous = false
				break
			}
		}
		if contiguous {
			child, err := a.children[0].Slice(int(a.bufs.ValueOffsets[a.offset]), a.length)
			if err == nil {
				out := *child
				out.typ = target
				return &out, nil
			}
		}
	}
	return a.rebuildInto(target)
}

// rebuildInto reconstructs the array element by element through a
// builder of the target type. Element order and nullness are preserved;
// coordinate values transfer bit-exact.
func (a *Array) rebuildInto(target Type) (*Array, error) {
	b, err := NewBuilderWithCapacity(target, a.length)
	if err != nil {
		return nil, err
	}
	for i := 0; i < a.length; i++ {
		g, err := a.Geometry(i)
		if err != nil {
			return nil, err
		}
		if err := b.Push(g); err != nil {
			return nil, err
		}
	}
	return b.Finish()
}
