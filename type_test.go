package geoarrow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDimensionSize(t *testing.T) {
	tests := []struct {
		dim      Dimension
		expected int
	}{
		{DimXY, 2},
		{DimXYZ, 3},
		{DimXYM, 3},
		{DimXYZM, 4},
	}

	for _, tt := range tests {
		t.Run(tt.dim.String(), func(t *testing.T) {
			if got := tt.dim.Size(); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestNestingDepth(t *testing.T) {
	tests := []struct {
		typ      GeometryType
		expected int
	}{
		{TypePoint, 0},
		{TypeBox, 0},
		{TypeLineString, 1},
		{TypeMultiPoint, 1},
		{TypePolygon, 2},
		{TypeMultiLineString, 2},
		{TypeMultiPolygon, 3},
		{TypeGeometryCollection, -1},
		{TypeMixed, -1},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			if got := tt.typ.Depth(); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestTypeSerializeParseRoundTrip(t *testing.T) {
	types := []Type{
		TypeOf(TypePoint),
		TypeOf(TypeLineString).WithLayout(LayoutSeparated),
		TypeOf(TypeMultiPolygon).WithDimension(DimXYZ),
		TypeOf(TypeWKB).WithMetadata(Metadata{CRS: WGS84().Serialize()}),
		TypeOf(TypePolygon).WithMetadata(Metadata{
			CRS:   "EPSG:4326",
			Edges: EdgesSpherical,
			Extra: map[string]string{"resolution": "10"},
		}),
	}

	for _, typ := range types {
		t.Run(typ.String(), func(t *testing.T) {
			name, metadata, err := typ.Serialize()
			require.NoError(t, err)

			parsed, err := ParseType(name, metadata)
			require.NoError(t, err)
			require.True(t, typ.Equal(parsed), "got %+v, want %+v", parsed, typ)
		})
	}
}

func TestParseTypeUnsupportedEncoding(t *testing.T) {
	_, err := ParseType("geoarrow.voxel", "")
	require.ErrorIs(t, err, ErrUnsupportedEncoding)
}

func TestParseTypeBadDimension(t *testing.T) {
	_, err := ParseType("geoarrow.point", `{"dimension":"xyzw"}`)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestParseTypePreservesUnknownAttributes(t *testing.T) {
	typ, err := ParseType("geoarrow.point", `{"crs":"EPSG:3857","vendor_hint":{"tiled":true}}`)
	require.NoError(t, err)
	require.Equal(t, "EPSG:3857", typ.Meta.CRS)
	require.Equal(t, `{"tiled":true}`, typ.Meta.Extra["vendor_hint"])

	_, metadata, err := typ.Serialize()
	require.NoError(t, err)

	again, err := ParseType("geoarrow.point", metadata)
	require.NoError(t, err)
	require.True(t, typ.Equal(again))
}

func TestTypeEquality(t *testing.T) {
	base := TypeOf(TypePoint)
	require.True(t, base.Equal(TypeOf(TypePoint)))
	require.False(t, base.Equal(TypeOf(TypeLineString)))
	require.False(t, base.Equal(base.WithDimension(DimXYZ)))
	require.False(t, base.Equal(base.WithLayout(LayoutSeparated)))
	require.False(t, base.Equal(base.WithMetadata(Metadata{Edges: EdgesSpherical})))
	require.False(t, base.Equal(base.WithMetadata(Metadata{Extra: map[string]string{"k": "v"}})))
}

func TestExtensionNames(t *testing.T) {
	require.Equal(t, "geoarrow.point", TypeOf(TypePoint).ExtensionName())
	require.Equal(t, "geoarrow.geometry", TypeOf(TypeMixed).ExtensionName())
	require.Equal(t, "geoarrow.wkb", TypeOf(TypeWKB).ExtensionName())
}
