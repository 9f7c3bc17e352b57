package geoarrow

import (
	"github.com/paulmach/orb"
)

// MixedBuilder builds heterogeneous geometry arrays as a tagged union:
// one lazily created concrete sub-builder per geometry kind encountered,
// a type-id buffer naming the variant of each element and a value-offset
// buffer locating it inside that variant's storage. Finish keeps each
// variant's buffers separate, preserving O(1) element access.
type MixedBuilder struct {
	base
	typeIDs      []int8
	valueOffsets []int32
	children     []Builder
	kindToChild  map[GeometryType]int
	capacity     int
}

func newMixedBuilder(t Type, n int) *MixedBuilder {
	return &MixedBuilder{
		base:         newBase(t),
		typeIDs:      make([]int8, 0, n),
		valueOffsets: make([]int32, 0, n),
		kindToChild:  map[GeometryType]int{},
		capacity:     n,
	}
}

func (b *MixedBuilder) Reserve(n int) {
	if cap(b.typeIDs)-len(b.typeIDs) < n {
		ids := make([]int8, len(b.typeIDs), len(b.typeIDs)+n)
		copy(ids, b.typeIDs)
		b.typeIDs = ids
		offs := make([]int32, len(b.valueOffsets), len(b.valueOffsets)+n)
		copy(offs, b.valueOffsets)
		b.valueOffsets = offs
	}
}

// ensureChild returns the sub-builder index for kind, creating it on
// first use. The child inherits the dimension and layout of the mixed
// type but carries no metadata of its own.
func (b *MixedBuilder) ensureChild(kind GeometryType) (int, error) {
	if id, ok := b.kindToChild[kind]; ok {
		return id, nil
	}
	child, err := NewBuilderWithCapacity(Type{Geometry: kind, Dim: b.typ.Dim, Layout: b.typ.Layout}, b.capacity)
	if err != nil {
		return 0, err
	}
	b.children = append(b.children, child)
	id := len(b.children) - 1
	b.kindToChild[kind] = id
	return id, nil
}

// Push accepts any geometry kind; the element is self-described by the
// type-id buffer. Bounds are stored as their rectangle polygons so every
// element of the union is a standard geometry. Nulls are recorded in the
// point variant so each type-id entry always names an encoded variant.
func (b *MixedBuilder) Push(g orb.Geometry) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	kind := TypePoint
	if g != nil {
		kind = KindOf(g)
		switch kind {
		case TypeUnknown:
			return typeMismatch(TypeMixed, g)
		case TypeBox:
			kind = TypePolygon
			g = boundToPolygon(g.(orb.Bound))
		}
	}
	id, err := b.ensureChild(kind)
	if err != nil {
		return err
	}
	child := b.children[id]
	if err := child.Push(g); err != nil {
		return err
	}
	b.typeIDs = append(b.typeIDs, int8(id))
	b.valueOffsets = append(b.valueOffsets, int32(child.Len()-1))
	b.record(g != nil)
	return nil
}

func (b *MixedBuilder) Finish() (*Array, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	children := make([]*Array, len(b.children))
	for i, c := range b.children {
		arr, err := c.Finish()
		if err != nil {
			return nil, err
		}
		children[i] = arr
	}
	return finishArray(b.typ, b.length, Buffers{
		TypeIDs:      b.typeIDs,
		ValueOffsets: b.valueOffsets,
		Validity:     b.finishValidity(),
	}, children)
}
