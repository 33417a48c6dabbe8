package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// FieldType tags the concrete value carried by a Field.
type FieldType int

const (
	FieldTypeInvalid FieldType = iota
	FieldTypeInt
	FieldTypeUInt
	FieldTypeFloat
	FieldTypeDecimal
	FieldTypeBoolean
	FieldTypeString
	FieldTypeBinary
	FieldTypeTimestamp
	FieldTypeDate
	FieldTypeNull
	FieldTypeGeo
	FieldTypeJSON
)

func (t FieldType) String() string {
	switch t {
	case FieldTypeInt:
		return "int"
	case FieldTypeUInt:
		return "uint"
	case FieldTypeFloat:
		return "float"
	case FieldTypeDecimal:
		return "decimal"
	case FieldTypeBoolean:
		return "boolean"
	case FieldTypeString:
		return "string"
	case FieldTypeBinary:
		return "binary"
	case FieldTypeTimestamp:
		return "timestamp"
	case FieldTypeDate:
		return "date"
	case FieldTypeNull:
		return "null"
	case FieldTypeGeo:
		return "geo"
	case FieldTypeJSON:
		return "json"
	default:
		return "invalid"
	}
}

// Point is a simple lon/lat pair for the Geo field variant.
type Point struct {
	Lon float64
	Lat float64
}

// Field is a tagged sum over the primitive value types the engine moves
// through the DAG. Only the member matching Type is meaningful.
type Field struct {
	Type      FieldType
	IntVal    int64
	UIntVal   uint64
	FloatVal  float64
	Decimal   decimal.Decimal
	BoolVal   bool
	StrVal    string
	BinVal    []byte
	Timestamp time.Time
	Date      time.Time
	Geo       Point
	JSONVal   []byte
}

func IntField(v int64) Field          { return Field{Type: FieldTypeInt, IntVal: v} }
func UIntField(v uint64) Field        { return Field{Type: FieldTypeUInt, UIntVal: v} }
func FloatField(v float64) Field      { return Field{Type: FieldTypeFloat, FloatVal: v} }
func DecimalField(v decimal.Decimal) Field { return Field{Type: FieldTypeDecimal, Decimal: v} }
func BoolField(v bool) Field          { return Field{Type: FieldTypeBoolean, BoolVal: v} }
func StringField(v string) Field      { return Field{Type: FieldTypeString, StrVal: v} }
func BinaryField(v []byte) Field      { return Field{Type: FieldTypeBinary, BinVal: v} }
func TimestampField(v time.Time) Field { return Field{Type: FieldTypeTimestamp, Timestamp: v} }
func DateField(v time.Time) Field     { return Field{Type: FieldTypeDate, Date: v} }
func NullField() Field                { return Field{Type: FieldTypeNull} }
func GeoField(p Point) Field          { return Field{Type: FieldTypeGeo, Geo: p} }
func JSONField(v []byte) Field        { return Field{Type: FieldTypeJSON, JSONVal: v} }

// Encode produces the canonical ordered byte encoding for a field, used as
// key material by the primary-key record writer. Encoding is a pure
// function of (Field, FieldType); it never touches storage.
func (f Field) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(f.Type))
	switch f.Type {
	case FieldTypeInt:
		// Flip the sign bit so two's-complement integers sort correctly
		// as unsigned big-endian byte strings.
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(f.IntVal)^(1<<63))
		buf.Write(b[:])
	case FieldTypeUInt:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], f.UIntVal)
		buf.Write(b[:])
	case FieldTypeFloat:
		bits := math.Float64bits(f.FloatVal)
		if f.FloatVal < 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], bits)
		buf.Write(b[:])
	case FieldTypeDecimal:
		buf.WriteString(f.Decimal.String())
	case FieldTypeBoolean:
		if f.BoolVal {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case FieldTypeString:
		buf.WriteString(f.StrVal)
	case FieldTypeBinary:
		buf.Write(f.BinVal)
	case FieldTypeTimestamp:
		var b [8]byte
		// Sign bit flipped as for Int, so times before 1970 sort first.
		binary.BigEndian.PutUint64(b[:], uint64(f.Timestamp.UnixNano())^(1<<63))
		buf.Write(b[:])
	case FieldTypeDate:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(f.Date.Unix())^(1<<63))
		buf.Write(b[:])
	case FieldTypeNull:
		// tag byte alone is enough; by tag order a null sorts after int
		// through date values and before geo and json values.
	case FieldTypeGeo:
		var b [16]byte
		binary.BigEndian.PutUint64(b[0:8], math.Float64bits(f.Geo.Lat))
		binary.BigEndian.PutUint64(b[8:16], math.Float64bits(f.Geo.Lon))
		buf.Write(b[:])
	case FieldTypeJSON:
		buf.Write(f.JSONVal)
	default:
		return nil, fmt.Errorf("types: cannot encode field of type %v", f.Type)
	}
	return buf.Bytes(), nil
}

// Compare gives Field a total order, consistent with the byte order
// produced by Encode for same-typed fields. Differently-typed fields
// order by their FieldType tag.
func (f Field) Compare(other Field) int {
	if f.Type != other.Type {
		if f.Type < other.Type {
			return -1
		}
		return 1
	}
	a, errA := f.Encode()
	b, errB := other.Encode()
	if errA != nil || errB != nil {
		return 0
	}
	return bytes.Compare(a, b)
}
