package geoarrow

import "fmt"

// Buffers is the physical nested-buffer encoding shared by every array
// variant: coordinate buffers, offset buffers (outermost first), an
// optional validity bitmap over the top nesting level, and the union
// buffers used by the Mixed variant. WKB and WKT arrays store their
// encoded bytes in Data addressed by a single offset level.
type Buffers struct {
	// Coords holds one buffer when the layout is interleaved and one
	// buffer per axis when separated.
	Coords [][]float64
	// Offsets holds one monotonically non-decreasing buffer per nesting
	// level; entry i+1 minus entry i is element i's child count.
	Offsets [][]int32
	// Data holds encoded bytes for the WKB and WKT variants.
	Data []byte
	// Validity marks nulls at the top nesting level; nil means no nulls.
	Validity *Bitmap
	// TypeIDs and ValueOffsets form the dense-union addressing of the
	// Mixed variant: one (child id, position) pair per logical element.
	TypeIDs      []int8
	ValueOffsets []int32
}

// coordCount returns the number of logical points held by the coordinate
// buffers, checking shape consistency against the type's dimension and
// layout.
func (b *Buffers) coordCount(t Type) (int, error) {
	size := t.Dim.Size()
	if t.Layout == LayoutInterleaved {
		if len(b.Coords) != 1 {
			return 0, &InvalidBufferLayoutError{Level: -1, Reason: fmt.Sprintf("interleaved layout requires 1 coordinate buffer, have %d", len(b.Coords))}
		}
		if len(b.Coords[0])%size != 0 {
			return 0, &InvalidBufferLayoutError{Level: -1, Reason: fmt.Sprintf("coordinate buffer length %d is not a multiple of dimension size %d", len(b.Coords[0]), size)}
		}
		return len(b.Coords[0]) / size, nil
	}
	if len(b.Coords) != size {
		return 0, &InvalidBufferLayoutError{Level: -1, Reason: fmt.Sprintf("separated layout requires %d coordinate buffers, have %d", size, len(b.Coords))}
	}
	n := len(b.Coords[0])
	for i, axis := range b.Coords {
		if len(axis) != n {
			return 0, &InvalidBufferLayoutError{Level: -1, Reason: fmt.Sprintf("axis buffer %d has length %d, want %d", i, len(axis), n)}
		}
	}
	return n, nil
}

// fullLength derives the total top-level element count the buffers can
// hold, independent of any slice window.
func (b *Buffers) fullLength(t Type) (int, error) {
	switch t.Geometry {
	case TypePoint:
		return b.coordCount(t)
	case TypeBox:
		n, err := b.coordCount(t)
		if err != nil {
			return 0, err
		}
		if n%2 != 0 {
			return 0, &InvalidBufferLayoutError{Level: -1, Reason: fmt.Sprintf("box array has odd coordinate count %d", n)}
		}
		return n / 2, nil
	case TypeMixed:
		return len(b.TypeIDs), nil
	default:
		if len(b.Offsets) == 0 {
			return 0, &InvalidBufferLayoutError{Level: 0, Reason: "missing offset buffer"}
		}
		return len(b.Offsets[0]) - 1, nil
	}
}

// Validate checks all structural invariants of the buffers for an array
// of the given type and top-level length in O(n) time over the offset
// buffers only. childLens carries the element counts of child arrays for
// the indirect variants: per-variant counts for Mixed and the backing
// storage count for GeometryCollection. Builder-produced buffers satisfy
// these invariants by construction; externally imported buffers must be
// validated before first use.
func (b *Buffers) Validate(t Type, length int, childLens []int) error {
	if length < 0 {
		return &InvalidBufferLayoutError{Level: -1, Reason: "negative length"}
	}
	if b.Validity != nil && b.Validity.Len() < length {
		return &InvalidBufferLayoutError{Level: -1, Reason: fmt.Sprintf("validity bitmap covers %d of %d elements", b.Validity.Len(), length)}
	}

	switch t.Geometry {
	case TypeWKB, TypeWKT:
		return b.validateOffsetChain(0, []int{length, len(b.Data)}, 1)

	case TypeMixed:
		if len(b.TypeIDs) != length {
			return &InvalidBufferLayoutError{Level: -1, Reason: fmt.Sprintf("type-id buffer has %d entries for %d elements", len(b.TypeIDs), length)}
		}
		if len(b.ValueOffsets) != length {
			return &InvalidBufferLayoutError{Level: -1, Reason: fmt.Sprintf("value-offset buffer has %d entries for %d elements", len(b.ValueOffsets), length)}
		}
		for i := 0; i < length; i++ {
			id := int(b.TypeIDs[i])
			if id < 0 || id >= len(childLens) {
				return &InvalidBufferLayoutError{Level: -1, Reason: fmt.Sprintf("element %d names variant %d of %d", i, id, len(childLens))}
			}
			if off := int(b.ValueOffsets[i]); off < 0 || off >= childLens[id] {
				return &InvalidBufferLayoutError{Level: -1, Reason: fmt.Sprintf("element %d addresses position %d of variant with %d elements", i, off, childLens[id])}
			}
		}
		return nil

	case TypeGeometryCollection:
		if len(childLens) != 1 {
			return &InvalidBufferLayoutError{Level: -1, Reason: "collection requires one backing child"}
		}
		return b.validateOffsetChain(0, []int{length, childLens[0]}, 1)

	case TypePoint:
		n, err := b.coordCount(t)
		if err != nil {
			return err
		}
		if n != length {
			return &InvalidBufferLayoutError{Level: -1, Reason: fmt.Sprintf("point array has %d coordinates for %d elements", n, length)}
		}
		return nil

	case TypeBox:
		n, err := b.coordCount(t)
		if err != nil {
			return err
		}
		if n != 2*length {
			return &InvalidBufferLayoutError{Level: -1, Reason: fmt.Sprintf("box array has %d coordinates for %d elements, want %d", n, length, 2*length)}
		}
		return nil
	}

	depth := t.Geometry.Depth()
	if depth < 1 {
		return fmt.Errorf("%w: %s", ErrUnsupportedEncoding, t.Geometry)
	}
	nCoords, err := b.coordCount(t)
	if err != nil {
		return err
	}

	// counts[l] is the expected element count at nesting level l; the
	// innermost level must line up with the coordinate buffers.
	counts := make([]int, 0, depth+1)
	counts = append(counts, length)
	for l := 0; l < depth; l++ {
		if l >= len(b.Offsets) {
			return &InvalidBufferLayoutError{Level: l, Reason: "missing offset buffer"}
		}
		if len(b.Offsets[l]) != counts[l]+1 {
			return &InvalidBufferLayoutError{Level: l, Reason: fmt.Sprintf("offset buffer has %d entries, want %d", len(b.Offsets[l]), counts[l]+1)}
		}
		counts = append(counts, int(b.Offsets[l][counts[l]]))
	}
	if len(b.Offsets) != depth {
		return &InvalidBufferLayoutError{Level: depth, Reason: fmt.Sprintf("%d offset buffers for nesting depth %d", len(b.Offsets), depth)}
	}
	counts[depth] = nCoords
	return b.validateOffsetChain(0, counts, depth)
}

// validateOffsetChain checks levels [0, depth) of the offset buffers:
// first entry zero, non-decreasing, last entry equal to the next level's
// element count.
func (b *Buffers) validateOffsetChain(start int, counts []int, depth int) error {
	for l := start; l < depth; l++ {
		if l >= len(b.Offsets) {
			return &InvalidBufferLayoutError{Level: l, Reason: "missing offset buffer"}
		}
		offs := b.Offsets[l]
		if len(offs) != counts[l]+1 {
			return &InvalidBufferLayoutError{Level: l, Reason: fmt.Sprintf("offset buffer has %d entries, want %d", len(offs), counts[l]+1)}
		}
		if len(offs) == 0 || offs[0] != 0 {
			return &InvalidBufferLayoutError{Level: l, Reason: "first offset is not 0"}
		}
		for i := 1; i < len(offs); i++ {
			if offs[i] < offs[i-1] {
				return &InvalidBufferLayoutError{Level: l, Reason: fmt.Sprintf("offsets decrease at entry %d", i)}
			}
		}
		if int(offs[len(offs)-1]) != counts[l+1] {
			return &InvalidBufferLayoutError{Level: l, Reason: fmt.Sprintf("last offset %d does not equal child count %d", offs[len(offs)-1], counts[l+1])}
		}
	}
	return nil
}
