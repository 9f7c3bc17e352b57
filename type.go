package geoarrow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// GeometryType identifies one member of the closed geometry taxonomy.
type GeometryType int

const (
	TypeUnknown GeometryType = iota
	TypePoint
	TypeLineString
	TypePolygon
	TypeMultiPoint
	TypeMultiLineString
	TypeMultiPolygon
	TypeGeometryCollection
	TypeMixed
	TypeBox
	TypeWKB
	TypeWKT
)

var geometryTypeNames = map[GeometryType]string{
	TypePoint:              "Point",
	TypeLineString:         "LineString",
	TypePolygon:            "Polygon",
	TypeMultiPoint:         "MultiPoint",
	TypeMultiLineString:    "MultiLineString",
	TypeMultiPolygon:       "MultiPolygon",
	TypeGeometryCollection: "GeometryCollection",
	TypeMixed:              "Geometry",
	TypeBox:                "Box",
	TypeWKB:                "WKB",
	TypeWKT:                "WKT",
}

func (g GeometryType) String() string {
	if name, ok := geometryTypeNames[g]; ok {
		return name
	}
	return "Unknown"
}

// Depth returns the number of offset-buffer nesting levels for the type.
// Variable-depth types (GeometryCollection, Mixed) and the serialized
// encodings address their children indirectly and report -1.
func (g GeometryType) Depth() int {
	switch g {
	case TypePoint, TypeBox:
		return 0
	case TypeLineString, TypeMultiPoint:
		return 1
	case TypePolygon, TypeMultiLineString:
		return 2
	case TypeMultiPolygon:
		return 3
	default:
		return -1
	}
}

// extensionNames maps taxonomy members to their GeoArrow extension names.
var extensionNames = map[GeometryType]string{
	TypePoint:              "geoarrow.point",
	TypeLineString:         "geoarrow.linestring",
	TypePolygon:            "geoarrow.polygon",
	TypeMultiPoint:         "geoarrow.multipoint",
	TypeMultiLineString:    "geoarrow.multilinestring",
	TypeMultiPolygon:       "geoarrow.multipolygon",
	TypeGeometryCollection: "geoarrow.geometrycollection",
	TypeMixed:              "geoarrow.geometry",
	TypeBox:                "geoarrow.box",
	TypeWKB:                "geoarrow.wkb",
	TypeWKT:                "geoarrow.wkt",
}

// Dimension represents the dimensionality of coordinates.
type Dimension int

const (
	DimXY Dimension = iota
	DimXYZ
	DimXYM
	DimXYZM
)

// Size returns the number of coordinate values per point.
func (d Dimension) Size() int {
	switch d {
	case DimXYZ, DimXYM:
		return 3
	case DimXYZM:
		return 4
	default:
		return 2
	}
}

func (d Dimension) String() string {
	switch d {
	case DimXY:
		return "xy"
	case DimXYZ:
		return "xyz"
	case DimXYM:
		return "xym"
	case DimXYZM:
		return "xyzm"
	default:
		return "unknown"
	}
}

// CoordLayout selects the physical coordinate buffer arrangement.
type CoordLayout int

const (
	// LayoutInterleaved stores coordinates as a single x,y,x,y,... buffer.
	LayoutInterleaved CoordLayout = iota
	// LayoutSeparated stores one contiguous buffer per axis.
	LayoutSeparated
)

func (c CoordLayout) String() string {
	if c == LayoutSeparated {
		return "separate"
	}
	return "interleaved"
}

// Edges describes how edges between vertices are interpolated.
type Edges int

const (
	EdgesPlanar Edges = iota
	EdgesSpherical
)

func (e Edges) String() string {
	if e == EdgesSpherical {
		return "spherical"
	}
	return "planar"
}

// Metadata carries the reference-system and edge information attached to
// a Type. CRS is opaque: the core stores and round-trips it but never
// interprets it. Extra preserves unknown wire attributes verbatim.
type Metadata struct {
	CRS   string
	Edges Edges
	Extra map[string]string
}

// Equal reports structural equality, including unknown attributes.
func (m Metadata) Equal(o Metadata) bool {
	if m.CRS != o.CRS || m.Edges != o.Edges || len(m.Extra) != len(o.Extra) {
		return false
	}
	for k, v := range m.Extra {
		if ov, ok := o.Extra[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Serialize produces the CRS metadata value for c, suitable for
// Metadata.CRS. The result is a compact JSON object so that independent
// runtimes can recover the authority and code.
func (c *CRS) Serialize() string {
	if c == nil {
		return ""
	}
	if c.JSON != "" {
		return c.JSON
	}
	obj := map[string]any{}
	if c.Name != "" {
		obj["name"] = c.Name
	}
	if c.Code > 0 {
		obj["id"] = map[string]any{"authority": "EPSG", "code": c.Code}
	}
	data, _ := json.Marshal(obj)
	return string(data)
}

// Type is the canonical, comparable descriptor of a geometry array:
// taxonomy member, coordinate dimension, physical layout and metadata.
// Two arrays may only be concatenated or compared if their Types,
// including Metadata, are equal.
type Type struct {
	Geometry GeometryType
	Dim      Dimension
	Layout   CoordLayout
	Meta     Metadata
}

// TypeOf returns the default Type for a taxonomy member: XY coordinates,
// interleaved layout, planar edges, no CRS.
func TypeOf(g GeometryType) Type {
	return Type{Geometry: g}
}

// WithDimension returns a copy of t with the coordinate dimension set.
func (t Type) WithDimension(d Dimension) Type {
	t.Dim = d
	return t
}

// WithLayout returns a copy of t with the coordinate layout set.
func (t Type) WithLayout(l CoordLayout) Type {
	t.Layout = l
	return t
}

// WithMetadata returns a copy of t with the metadata replaced.
func (t Type) WithMetadata(m Metadata) Type {
	t.Meta = m
	return t
}

// Equal reports structural equality of the full descriptor.
func (t Type) Equal(o Type) bool {
	return t.Geometry == o.Geometry &&
		t.Dim == o.Dim &&
		t.Layout == o.Layout &&
		t.Meta.Equal(o.Meta)
}

func (t Type) String() string {
	return fmt.Sprintf("%s[%s,%s]", t.Geometry, t.Dim, t.Layout)
}

// ExtensionName returns the GeoArrow extension name for the type.
func (t Type) ExtensionName() string {
	return extensionNames[t.Geometry]
}

// isSerialized reports whether the type stores pre-encoded bytes rather
// than native coordinate buffers.
func (t Type) isSerialized() bool {
	return t.Geometry == TypeWKB || t.Geometry == TypeWKT
}

// Serialize returns the wire form of the type: its extension name plus
// the JSON attribute set (dimension tag, layout, CRS, edge tag and any
// preserved unknown attributes).
func (t Type) Serialize() (name, metadata string, err error) {
	name = t.ExtensionName()
	if name == "" {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedEncoding, t.Geometry)
	}

	obj := map[string]json.RawMessage{}
	if t.Dim != DimXY {
		obj["dimension"] = rawJSONString(t.Dim.String())
	}
	if t.Layout == LayoutSeparated && !t.isSerialized() {
		obj["coord_type"] = rawJSONString(t.Layout.String())
	}
	if t.Meta.CRS != "" {
		if json.Valid([]byte(t.Meta.CRS)) {
			obj["crs"] = json.RawMessage(t.Meta.CRS)
		} else {
			obj["crs"] = rawJSONString(t.Meta.CRS)
		}
	}
	if t.Meta.Edges == EdgesSpherical {
		obj["edges"] = rawJSONString("spherical")
	}
	for k, v := range t.Meta.Extra {
		if _, taken := obj[k]; !taken {
			obj[k] = json.RawMessage(v)
		}
	}
	if len(obj) == 0 {
		return name, "", nil
	}

	// Deterministic key order keeps the wire form stable for comparison.
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendQuote(buf, k)
		buf = append(buf, ':')
		buf = append(buf, obj[k]...)
	}
	buf = append(buf, '}')
	return name, string(buf), nil
}

// ParseType reconstructs a Type from its wire form. It fails with
// ErrUnsupportedEncoding if the extension name is outside the taxonomy
// and preserves unknown metadata attributes opaquely in Metadata.Extra.
func ParseType(name, metadata string) (Type, error) {
	var t Type
	found := false
	for g, n := range extensionNames {
		if n == name {
			t.Geometry = g
			found = true
			break
		}
	}
	if !found {
		return Type{}, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, name)
	}
	if metadata == "" {
		return t, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(metadata), &obj); err != nil {
		return Type{}, fmt.Errorf("%w: invalid metadata: %s", ErrUnsupportedEncoding, err)
	}

	for k, v := range obj {
		switch k {
		case "dimension":
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return Type{}, fmt.Errorf("%w: bad dimension tag", ErrDimensionMismatch)
			}
			switch s {
			case "xy":
				t.Dim = DimXY
			case "xyz":
				t.Dim = DimXYZ
			case "xym":
				t.Dim = DimXYM
			case "xyzm":
				t.Dim = DimXYZM
			default:
				return Type{}, fmt.Errorf("%w: unknown dimension %q", ErrDimensionMismatch, s)
			}
		case "coord_type":
			var s string
			if err := json.Unmarshal(v, &s); err == nil && s == "separate" {
				t.Layout = LayoutSeparated
			}
		case "crs":
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				t.Meta.CRS = s
			} else {
				t.Meta.CRS = string(v)
			}
		case "edges":
			var s string
			if err := json.Unmarshal(v, &s); err == nil && s == "spherical" {
				t.Meta.Edges = EdgesSpherical
			}
		default:
			if t.Meta.Extra == nil {
				t.Meta.Extra = map[string]string{}
			}
			t.Meta.Extra[k] = string(v)
		}
	}
	return t, nil
}

func rawJSONString(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return json.RawMessage(data)
}
