// Package geoarrow provides a columnar, typed, zero-copy in-memory
// representation of orb geometries following the GeoArrow memory layout.
// Geometries are flattened into coordinate and offset buffers that can be
// sliced, cast between encodings (native, WKB, WKT) and exported across
// language boundaries without copying.
package geoarrow

import (
	"errors"
	"fmt"
)

// Common errors returned by this package.
var (
	ErrUnsupportedEncoding  = errors.New("geoarrow: unsupported encoding")
	ErrDimensionMismatch    = errors.New("geoarrow: dimension mismatch")
	ErrGeometryTypeMismatch = errors.New("geoarrow: geometry type mismatch")
	ErrOutOfBounds          = errors.New("geoarrow: index out of bounds")
	ErrTypeMismatch         = errors.New("geoarrow: array type mismatch")
	ErrBuilderFinished      = errors.New("geoarrow: builder already finished")
)

// InvalidBufferLayoutError reports a violated buffer invariant discovered
// during validation of externally supplied buffers. Level identifies the
// first offending offset level, outermost first; -1 means the violation is
// not tied to an offset level (coordinate or union buffers).
type InvalidBufferLayoutError struct {
	Level  int
	Reason string
}

func (e *InvalidBufferLayoutError) Error() string {
	if e.Level < 0 {
		return fmt.Sprintf("geoarrow: invalid buffer layout: %s", e.Reason)
	}
	return fmt.Sprintf("geoarrow: invalid buffer layout at offset level %d: %s", e.Level, e.Reason)
}

// GeometryParseError reports malformed WKB or WKT input. Offset is the
// byte (WKB) or character (WKT) position within the offending element's
// encoding; Index is the element's position in the array, or -1 when the
// input is a standalone value.
type GeometryParseError struct {
	Index  int
	Offset int
	Reason string
	cause  error
}

func (e *GeometryParseError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("geoarrow: parse error at element %d, offset %d: %s", e.Index, e.Offset, e.Reason)
	}
	return fmt.Sprintf("geoarrow: parse error at offset %d: %s", e.Offset, e.Reason)
}

func (e *GeometryParseError) Unwrap() error { return e.cause }

// DowncastError reports a failed narrowing of a Mixed array to a concrete
// geometry type. Index is the first element whose runtime kind differs
// from the requested target.
type DowncastError struct {
	Index int
	Want  GeometryType
	Got   GeometryType
}

func (e *DowncastError) Error() string {
	return fmt.Sprintf("geoarrow: cannot downcast to %s: element %d is %s", e.Want, e.Index, e.Got)
}

// CRS represents a coordinate reference system attached to a Type. The
// JSON field is passed through unexamined; the core never interprets it.
type CRS struct {
	Code int    // EPSG code (e.g., 4326 for WGS84)
	Name string // CRS name
	JSON string // PROJJSON or other serialized form, passed through opaquely
}

// WGS84 returns the standard WGS84 CRS (EPSG:4326).
func WGS84() *CRS {
	return &CRS{
		Code: 4326,
		Name: "WGS 84",
	}
}
