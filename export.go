package geoarrow

// ExportedArray is the cross-language handoff form of an Array: the raw
// buffers exactly as laid out in memory plus the serialized type
// descriptor. Buffers are borrowed, never copied; the importer must call
// Release when it no longer reads them. Byte layout is preserved exactly
// (native endianness, no layout transposition — changing between
// interleaved and separated coordinates requires Cast, not export).
type ExportedArray struct {
	// Name is the GeoArrow extension name of the type.
	Name string
	// Metadata is the serialized attribute set: dimension tag, layout,
	// CRS, edge tag and any preserved unknown attributes.
	Metadata string

	Length int
	Offset int

	Validity     []byte
	Offsets      [][]int32
	Coords       [][]float64
	Data         []byte
	TypeIDs      []int8
	ValueOffsets []int32

	Children []*ExportedArray

	release func()
}

// Release signals that the importer is done with the borrowed buffers.
// It may be called at most once; nil-safe on re-entry.
func (e *ExportedArray) Release() {
	if e.release != nil {
		e.release()
		e.release = nil
	}
	for _, c := range e.Children {
		c.Release()
	}
}

// Export exposes the array's buffers for consumption by a foreign
// runtime without copying. The optional onRelease callback runs when the
// importer releases the top-level buffers.
func Export(a *Array, onRelease func()) (*ExportedArray, error) {
	name, metadata, err := a.typ.Serialize()
	if err != nil {
		return nil, err
	}
	e := &ExportedArray{
		Name:         name,
		Metadata:     metadata,
		Length:       a.length,
		Offset:       a.offset,
		Offsets:      a.bufs.Offsets,
		Coords:       a.bufs.Coords,
		Data:         a.bufs.Data,
		TypeIDs:      a.bufs.TypeIDs,
		ValueOffsets: a.bufs.ValueOffsets,
		release:      onRelease,
	}
	if a.bufs.Validity != nil {
		e.Validity = a.bufs.Validity.Bytes()
	}
	for _, c := range a.children {
		ce, err := Export(c, nil)
		if err != nil {
			return nil, err
		}
		e.Children = append(e.Children, ce)
	}
	return e, nil
}

// Import reconstructs an Array from exported buffers, sharing them
// without copying. The buffers are exhaustively validated before first
// use; on failure no Array is returned and the buffers must not be read
// through this package.
func Import(e *ExportedArray) (*Array, error) {
	t, err := ParseType(e.Name, e.Metadata)
	if err != nil {
		return nil, err
	}
	children := make([]*Array, 0, len(e.Children))
	for _, ce := range e.Children {
		c, err := Import(ce)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	bufs := Buffers{
		Coords:       e.Coords,
		Offsets:      e.Offsets,
		Data:         e.Data,
		TypeIDs:      e.TypeIDs,
		ValueOffsets: e.ValueOffsets,
	}
	if e.Validity != nil {
		bufs.Validity = BitmapFromBytes(e.Validity, 8*len(e.Validity))
	}
	a := &Array{typ: t, offset: e.Offset, length: e.Length, bufs: bufs, children: children}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
