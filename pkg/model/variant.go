package model

import (
	"fmt"
	"math"
)

// DataType is the declared type tag of a value.
type DataType uint8

const (
	// DataTypeNull marks an empty value.
	DataTypeNull DataType = iota
	DataTypeBoolean
	DataTypeInt64
	DataTypeUInt32
	DataTypeDouble
	DataTypeString
)

var dataTypeNames = []string{
	"Null", "Boolean", "Int64", "UInt32", "Double", "String",
}

// String returns the data type name.
func (t DataType) String() string {
	if int(t) < len(dataTypeNames) {
		return dataTypeNames[t]
	}
	return fmt.Sprintf("DataType(%d)", t)
}

// ParseDataType returns the data type with the given name.
func ParseDataType(name string) (DataType, error) {
	for i, n := range dataTypeNames {
		if n == name {
			return DataType(i), nil
		}
	}
	return DataTypeNull, fmt.Errorf("unknown data type %q", name)
}

// Variant is a tagged scalar value.
//
// The Go type of Value is fixed by Type: bool, int64, uint32, float64 or
// string. A Variant whose Value does not match its tag is not Valid.
type Variant struct {
	Type  DataType `cbor:"1,keyasint" json:"type"`
	Value any      `cbor:"2,keyasint" json:"value"`
}

// Double returns a Double variant.
func Double(f float64) Variant { return Variant{Type: DataTypeDouble, Value: f} }

// Boolean returns a Boolean variant.
func Boolean(b bool) Variant { return Variant{Type: DataTypeBoolean, Value: b} }

// Int64 returns an Int64 variant.
func Int64(i int64) Variant { return Variant{Type: DataTypeInt64, Value: i} }

// UInt32 returns a UInt32 variant.
func UInt32(u uint32) Variant { return Variant{Type: DataTypeUInt32, Value: u} }

// String returns a String variant.
func String(s string) Variant { return Variant{Type: DataTypeString, Value: s} }

// Zero returns the zero value for the data type.
func Zero(t DataType) Variant {
	switch t {
	case DataTypeBoolean:
		return Boolean(false)
	case DataTypeInt64:
		return Int64(0)
	case DataTypeUInt32:
		return UInt32(0)
	case DataTypeDouble:
		return Double(0)
	case DataTypeString:
		return String("")
	default:
		return Variant{}
	}
}

// IsNull reports whether the variant is empty.
func (v Variant) IsNull() bool { return v.Type == DataTypeNull }

// Valid reports whether the Go type of Value matches the tag.
func (v Variant) Valid() bool {
	switch v.Type {
	case DataTypeNull:
		return v.Value == nil
	case DataTypeBoolean:
		_, ok := v.Value.(bool)
		return ok
	case DataTypeInt64:
		_, ok := v.Value.(int64)
		return ok
	case DataTypeUInt32:
		_, ok := v.Value.(uint32)
		return ok
	case DataTypeDouble:
		_, ok := v.Value.(float64)
		return ok
	case DataTypeString:
		_, ok := v.Value.(string)
		return ok
	default:
		return false
	}
}

// Float64 returns the value of a Double variant.
func (v Variant) Float64() (float64, bool) {
	if v.Type != DataTypeDouble {
		return 0, false
	}
	f, ok := v.Value.(float64)
	return f, ok
}

// Normalize converts a generically decoded Value (as produced by CBOR or
// JSON decoding into any) to the Go type required by the tag.
func (v Variant) Normalize() (Variant, error) {
	if v.Valid() {
		return v, nil
	}
	switch v.Type {
	case DataTypeDouble:
		switch n := v.Value.(type) {
		case float32:
			return Double(float64(n)), nil
		case uint64:
			return Double(float64(n)), nil
		case int64:
			return Double(float64(n)), nil
		}
	case DataTypeInt64:
		switch n := v.Value.(type) {
		case uint64:
			if n <= math.MaxInt64 {
				return Int64(int64(n)), nil
			}
		case float64:
			if n == math.Trunc(n) && n >= math.MinInt64 && n <= math.MaxInt64 {
				return Int64(int64(n)), nil
			}
		}
	case DataTypeUInt32:
		switch n := v.Value.(type) {
		case uint64:
			if n <= math.MaxUint32 {
				return UInt32(uint32(n)), nil
			}
		case int64:
			if n >= 0 && n <= math.MaxUint32 {
				return UInt32(uint32(n)), nil
			}
		case float64:
			if n == math.Trunc(n) && n >= 0 && n <= math.MaxUint32 {
				return UInt32(uint32(n)), nil
			}
		}
	}
	return v, fmt.Errorf("%w: %T is not a %s", ErrTypeMismatch, v.Value, v.Type)
}

// String formats the variant for display.
func (v Variant) String() string {
	if v.IsNull() {
		return "null"
	}
	return fmt.Sprintf("%v (%s)", v.Value, v.Type)
}
