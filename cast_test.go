package geoarrow

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/stretchr/testify/require"
)

var roundTripFixtures = []struct {
	kind GeometryType
	geom orb.Geometry
}{
	{TypePoint, orb.Point{1.5, -2.25}},
	{TypeLineString, orb.LineString{{0, 0}, {1.125, 1.0625}, {2, 2}}},
	{TypeMultiPoint, orb.MultiPoint{{1, 2}, {3, 4}}},
	{TypePolygon, orb.Polygon{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{2, 2}, {8, 2}, {8, 8}, {2, 8}, {2, 2}},
	}},
	{TypeMultiLineString, orb.MultiLineString{{{0, 0}, {1, 1}}, {{2, 2}, {3, 3}}}},
	{TypeMultiPolygon, orb.MultiPolygon{
		{{{0, 0}, {5, 0}, {5, 5}, {0, 5}, {0, 0}}},
		{{{10, 10}, {15, 10}, {15, 15}, {10, 15}, {10, 10}}},
	}},
	{TypeGeometryCollection, orb.Collection{
		orb.Point{1, 2},
		orb.LineString{{0, 0}, {1, 1}},
	}},
}

func TestWKBRoundTrip(t *testing.T) {
	for _, tt := range roundTripFixtures {
		t.Run(tt.kind.String(), func(t *testing.T) {
			arr := mustArray(t, TypeOf(tt.kind), []orb.Geometry{tt.geom, nil, tt.geom})

			encoded, err := arr.ToWKB()
			require.NoError(t, err)
			require.Equal(t, TypeWKB, encoded.Type().Geometry)
			require.True(t, encoded.IsNull(1))

			decoded, err := FromWKB(encoded, TypeOf(tt.kind))
			require.NoError(t, err)
			require.True(t, arr.Equal(decoded), "round trip must be bit-exact")
		})
	}
}

func TestWKTRoundTrip(t *testing.T) {
	for _, tt := range roundTripFixtures {
		t.Run(tt.kind.String(), func(t *testing.T) {
			arr := mustArray(t, TypeOf(tt.kind), []orb.Geometry{tt.geom, nil})

			encoded, err := arr.ToWKT()
			require.NoError(t, err)

			decoded, err := FromWKT(encoded, TypeOf(tt.kind))
			require.NoError(t, err)
			require.True(t, arr.Equal(decoded))
		})
	}
}

func TestFromWKBBigEndian(t *testing.T) {
	buf := new(bytes.Buffer)
	buf.WriteByte(0) // XDR
	require.NoError(t, binary.Write(buf, binary.BigEndian, uint32(1)))
	require.NoError(t, binary.Write(buf, binary.BigEndian, 1.5))
	require.NoError(t, binary.Write(buf, binary.BigEndian, 2.5))

	b, err := NewBuilder(TypeOf(TypeWKB))
	require.NoError(t, err)
	require.NoError(t, b.(*WKBBuilder).PushRaw(buf.Bytes()))
	arr, err := b.Finish()
	require.NoError(t, err)

	decoded, err := FromWKB(arr, TypeOf(TypePoint))
	require.NoError(t, err)
	g, err := decoded.Geometry(0)
	require.NoError(t, err)
	require.Equal(t, orb.Point{1.5, 2.5}, g)
}

func TestFromWKBExtendedSRID(t *testing.T) {
	data, err := ewkb.Marshal(orb.Point{3, 4}, 4326)
	require.NoError(t, err)

	b, err := NewBuilder(TypeOf(TypeWKB))
	require.NoError(t, err)
	require.NoError(t, b.(*WKBBuilder).PushRaw(data))
	arr, err := b.Finish()
	require.NoError(t, err)

	decoded, err := FromWKB(arr, TypeOf(TypePoint))
	require.NoError(t, err)
	g, err := decoded.Geometry(0)
	require.NoError(t, err)
	require.Equal(t, orb.Point{3, 4}, g)
}

func TestFromWKBTruncated(t *testing.T) {
	b, err := NewBuilder(TypeOf(TypeWKB))
	require.NoError(t, err)
	require.NoError(t, b.(*WKBBuilder).PushRaw([]byte{1, 1, 0}))
	arr, err := b.Finish()
	require.NoError(t, err)

	_, err = FromWKB(arr, TypeOf(TypePoint))
	var parseErr *GeometryParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, 0, parseErr.Index)
	require.Equal(t, 3, parseErr.Offset, "offset of the first missing byte")
}

func TestFromWKBUnknownKindTag(t *testing.T) {
	buf := new(bytes.Buffer)
	buf.WriteByte(1) // NDR
	require.NoError(t, binary.Write(buf, binary.LittleEndian, uint32(99)))
	buf.Write(make([]byte, 16))

	b, err := NewBuilder(TypeOf(TypeWKB))
	require.NoError(t, err)
	require.NoError(t, b.(*WKBBuilder).PushRaw(buf.Bytes()))
	arr, err := b.Finish()
	require.NoError(t, err)

	_, err = FromWKB(arr, TypeOf(TypeMixed))
	var parseErr *GeometryParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, 1, parseErr.Offset, "offset of the kind tag")
}

func TestFromWKBWrongTargetKind(t *testing.T) {
	arr := mustArray(t, TypeOf(TypePolygon), []orb.Geometry{
		orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
	})
	encoded, err := arr.ToWKB()
	require.NoError(t, err)

	_, err = FromWKB(encoded, TypeOf(TypePoint))
	require.ErrorIs(t, err, ErrGeometryTypeMismatch)
}

func TestCastIdempotence(t *testing.T) {
	arr := lineStringFixture(t)
	same, err := arr.Cast(arr.Type())
	require.NoError(t, err)
	require.True(t, arr.Equal(same))
}

func TestCastLayoutRoundTrip(t *testing.T) {
	arr := lineStringFixture(t)

	separated, err := arr.Cast(arr.Type().WithLayout(LayoutSeparated))
	require.NoError(t, err)
	require.Equal(t, LayoutSeparated, separated.Type().Layout)
	require.Len(t, separated.bufs.Coords, 2)

	back, err := separated.Cast(arr.Type())
	require.NoError(t, err)
	require.True(t, arr.Equal(back))
}

func TestPromoteSharesCoordinates(t *testing.T) {
	arr := lineStringFixture(t)

	mixed, err := arr.Cast(TypeOf(TypeMixed))
	require.NoError(t, err)
	require.Equal(t, arr.Len(), mixed.Len())
	require.True(t, mixed.IsNull(1))
	require.Equal(t, &arr.bufs.Coords[0][0], &mixed.children[0].bufs.Coords[0][0], "promotion must not copy coordinates")
}

func TestPromoteBoxAsPolygons(t *testing.T) {
	bound := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2, 2}}
	arr := mustArray(t, TypeOf(TypeBox), []orb.Geometry{bound})

	mixed, err := arr.Cast(TypeOf(TypeMixed))
	require.NoError(t, err)
	require.Equal(t, TypePolygon, mixed.Value(0).Kind())
}

func TestDowncastFailureNamesFirstIndex(t *testing.T) {
	poly := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}

	arr := mustArray(t, TypeOf(TypeMixed), []orb.Geometry{poly, orb.Point{1, 2}})
	_, err := arr.Cast(TypeOf(TypePoint))
	var downcastErr *DowncastError
	require.ErrorAs(t, err, &downcastErr)
	require.Equal(t, 0, downcastErr.Index)
	require.Equal(t, TypePolygon, downcastErr.Got)

	arr = mustArray(t, TypeOf(TypeMixed), []orb.Geometry{orb.Point{1, 2}, poly})
	_, err = arr.Cast(TypeOf(TypePoint))
	require.ErrorAs(t, err, &downcastErr)
	require.Equal(t, 1, downcastErr.Index)
}

func TestMixedDowncastPromoteRoundTrip(t *testing.T) {
	mixed := mustArray(t, TypeOf(TypeMixed), []orb.Geometry{
		orb.Point{1, 2},
		nil,
		orb.Point{3, 4},
	})

	points, err := mixed.Cast(TypeOf(TypePoint))
	require.NoError(t, err)
	require.Equal(t, 3, points.Len())
	require.True(t, points.IsNull(1))

	back, err := points.Cast(TypeOf(TypeMixed))
	require.NoError(t, err)
	require.True(t, mixed.Equal(back), "element order and nullness must survive the round trip")
}

func TestDowncastZeroCopyFastPath(t *testing.T) {
	arr := mustArray(t, TypeOf(TypePoint), []orb.Geometry{
		orb.Point{1, 2}, orb.Point{3, 4},
	})
	mixed, err := arr.Cast(TypeOf(TypeMixed))
	require.NoError(t, err)

	back, err := mixed.Cast(TypeOf(TypePoint))
	require.NoError(t, err)
	require.Equal(t, &arr.bufs.Coords[0][0], &back.bufs.Coords[0][0], "contiguous single-variant downcast must not copy")
	require.True(t, arr.Equal(back))
}

func TestCastBetweenConcreteKindsIsIllegal(t *testing.T) {
	arr := lineStringFixture(t)
	_, err := arr.Cast(TypeOf(TypePolygon))
	require.ErrorIs(t, err, ErrGeometryTypeMismatch)
}

func TestWKBToWKT(t *testing.T) {
	arr := mustArray(t, TypeOf(TypePoint), []orb.Geometry{orb.Point{1, 2}})
	asWKB, err := arr.ToWKB()
	require.NoError(t, err)

	asWKT, err := asWKB.ToWKT()
	require.NoError(t, err)
	require.Equal(t, TypeWKT, asWKT.Type().Geometry)

	decoded, err := FromWKT(asWKT, TypeOf(TypePoint))
	require.NoError(t, err)
	require.True(t, arr.Equal(decoded))
}

func TestDowncastRejectsDimensionChange(t *testing.T) {
	arr := mustArray(t, TypeOf(TypePoint), []orb.Geometry{
		orb.Point{1, 2}, orb.Point{3, 4},
	})
	mixed, err := arr.Cast(TypeOf(TypeMixed))
	require.NoError(t, err)

	out, err := mixed.Cast(TypeOf(TypePoint).WithDimension(DimXYZ))
	require.ErrorIs(t, err, ErrDimensionMismatch)
	require.Nil(t, out)
}

func TestPromoteRejectsDimensionChange(t *testing.T) {
	arr := mustArray(t, TypeOf(TypePoint), []orb.Geometry{orb.Point{1, 2}})

	out, err := arr.Cast(TypeOf(TypeMixed).WithDimension(DimXYZ))
	require.ErrorIs(t, err, ErrDimensionMismatch)
	require.Nil(t, out)
}

func TestDowncastToSeparatedLayoutRebuilds(t *testing.T) {
	arr := mustArray(t, TypeOf(TypePoint), []orb.Geometry{
		orb.Point{1, 2}, orb.Point{3, 4},
	})
	mixed, err := arr.Cast(TypeOf(TypeMixed))
	require.NoError(t, err)

	out, err := mixed.Cast(TypeOf(TypePoint).WithLayout(LayoutSeparated))
	require.NoError(t, err)
	require.NoError(t, out.Validate())
	require.Equal(t, []float64{1, 3}, out.bufs.Coords[0])
	require.Equal(t, []float64{2, 4}, out.bufs.Coords[1])
}

func BenchmarkToWKB(b *testing.B) {
	r := rand.New(rand.NewSource(11))
	builder, _ := NewBuilderWithCapacity(TypeOf(TypeLineString), 1000)
	for i := 0; i < 1000; i++ {
		if err := builder.Push(randLineString(r)); err != nil {
			b.Fatal(err)
		}
	}
	arr, err := builder.Finish()
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := arr.ToWKB(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFromWKB(b *testing.B) {
	r := rand.New(rand.NewSource(11))
	builder, _ := NewBuilderWithCapacity(TypeOf(TypeLineString), 1000)
	for i := 0; i < 1000; i++ {
		if err := builder.Push(randLineString(r)); err != nil {
			b.Fatal(err)
		}
	}
	arr, err := builder.Finish()
	if err != nil {
		b.Fatal(err)
	}
	encoded, err := arr.ToWKB()
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := FromWKB(encoded, TypeOf(TypeLineString)); err != nil {
			b.Fatal(err)
		}
	}
}
