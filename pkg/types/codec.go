package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// EncodeRecord serializes a Record to a self-describing byte form suitable
// as a record writer's stored value. Unlike Field.Encode (which produces an
// order-preserving byte string for use as a key), this format is a plain
// length-prefixed encoding optimized for round-tripping, not comparison.
func EncodeRecord(r Record) ([]byte, error) {
	var buf bytes.Buffer

	writeUvarint(&buf, uint64(len(r.Fields)))
	for _, f := range r.Fields {
		if err := encodeFieldValue(&buf, f); err != nil {
			return nil, err
		}
	}

	if r.SchemaID != nil {
		buf.WriteByte(1)
		writeUint32(&buf, r.SchemaID.ID)
		writeUint32(&buf, r.SchemaID.Version)
	} else {
		buf.WriteByte(0)
	}

	if r.Version != nil {
		buf.WriteByte(1)
		writeUint64(&buf, *r.Version)
	} else {
		buf.WriteByte(0)
	}

	return buf.Bytes(), nil
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(data []byte) (Record, error) {
	r := bytes.NewReader(data)

	n, err := binary.ReadUvarint(r)
	if err != nil {
		return Record{}, fmt.Errorf("types: decode record field count: %w", err)
	}

	fields := make([]Field, 0, n)
	for i := uint64(0); i < n; i++ {
		f, err := decodeFieldValue(r)
		if err != nil {
			return Record{}, fmt.Errorf("types: decode field %d: %w", i, err)
		}
		fields = append(fields, f)
	}

	rec := Record{Fields: fields}

	hasSchema, err := r.ReadByte()
	if err != nil {
		return Record{}, err
	}
	if hasSchema == 1 {
		id, err := readUint32(r)
		if err != nil {
			return Record{}, err
		}
		ver, err := readUint32(r)
		if err != nil {
			return Record{}, err
		}
		rec.SchemaID = &SchemaID{ID: id, Version: ver}
	}

	hasVersion, err := r.ReadByte()
	if err != nil {
		return Record{}, err
	}
	if hasVersion == 1 {
		v, err := readUint64(r)
		if err != nil {
			return Record{}, err
		}
		rec.Version = &v
	}

	return rec, nil
}

func encodeFieldValue(buf *bytes.Buffer, f Field) error {
	buf.WriteByte(byte(f.Type))
	switch f.Type {
	case FieldTypeInt:
		writeUint64(buf, uint64(f.IntVal))
	case FieldTypeUInt:
		writeUint64(buf, f.UIntVal)
	case FieldTypeFloat:
		writeUint64(buf, doubleToBits(f.FloatVal))
	case FieldTypeDecimal:
		writeBytes(buf, []byte(f.Decimal.String()))
	case FieldTypeBoolean:
		if f.BoolVal {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case FieldTypeString:
		writeBytes(buf, []byte(f.StrVal))
	case FieldTypeBinary:
		writeBytes(buf, f.BinVal)
	case FieldTypeTimestamp:
		writeUint64(buf, uint64(f.Timestamp.UnixNano()))
	case FieldTypeDate:
		writeUint64(buf, uint64(f.Date.Unix()))
	case FieldTypeNull:
		// no payload
	case FieldTypeGeo:
		writeUint64(buf, doubleToBits(f.Geo.Lat))
		writeUint64(buf, doubleToBits(f.Geo.Lon))
	case FieldTypeJSON:
		writeBytes(buf, f.JSONVal)
	default:
		return fmt.Errorf("types: cannot encode field value of type %v", f.Type)
	}
	return nil
}

func decodeFieldValue(r *bytes.Reader) (Field, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return Field{}, err
	}
	typ := FieldType(tagByte)
	switch typ {
	case FieldTypeInt:
		v, err := readUint64(r)
		return Field{Type: typ, IntVal: int64(v)}, err
	case FieldTypeUInt:
		v, err := readUint64(r)
		return Field{Type: typ, UIntVal: v}, err
	case FieldTypeFloat:
		v, err := readUint64(r)
		return Field{Type: typ, FloatVal: bitsToDouble(v)}, err
	case FieldTypeDecimal:
		b, err := readBytes(r)
		if err != nil {
			return Field{}, err
		}
		d, err := decimal.NewFromString(string(b))
		return Field{Type: typ, Decimal: d}, err
	case FieldTypeBoolean:
		b, err := r.ReadByte()
		return Field{Type: typ, BoolVal: b == 1}, err
	case FieldTypeString:
		b, err := readBytes(r)
		return Field{Type: typ, StrVal: string(b)}, err
	case FieldTypeBinary:
		b, err := readBytes(r)
		return Field{Type: typ, BinVal: b}, err
	case FieldTypeTimestamp:
		v, err := readUint64(r)
		return Field{Type: typ, Timestamp: time.Unix(0, int64(v)).UTC()}, err
	case FieldTypeDate:
		v, err := readUint64(r)
		return Field{Type: typ, Date: time.Unix(int64(v), 0).UTC()}, err
	case FieldTypeNull:
		return Field{Type: typ}, nil
	case FieldTypeGeo:
		lat, err := readUint64(r)
		if err != nil {
			return Field{}, err
		}
		lon, err := readUint64(r)
		if err != nil {
			return Field{}, err
		}
		return Field{Type: typ, Geo: Point{Lat: bitsToDouble(lat), Lon: bitsToDouble(lon)}}, nil
	case FieldTypeJSON:
		b, err := readBytes(r)
		return Field{Type: typ, JSONVal: b}, err
	default:
		return Field{}, fmt.Errorf("types: unknown field tag %d", tagByte)
	}
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func doubleToBits(f float64) uint64 {
	return math.Float64bits(f)
}

func bitsToDouble(b uint64) float64 {
	return math.Float64frombits(b)
}
