// Package field implements the backend-agnostic value model: the closed catalogue of logical column types,
// a typed value holder with one marshaling policy per type, column/parameter infos and the formatter contract
// backends implement to write literals.
package field

import (
	"fmt"
	"strings"
)

// Type is a logical column or parameter type, independent of any backend's native type system.
type Type int

// enum of all supported types
const (
	Null Type = iota
	Bit
	Int8
	Int16
	Int24
	Int32
	Int64
	UInt8
	UInt16
	UInt24
	UInt32
	UInt64
	Float32
	Float64
	Fixed
	Char
	VarChar
	Text
	NChar
	NVarChar
	NText
	Date
	Time
	DateTime
	Binary
	VarBinary
	Blob
)

var typeNames = map[Type]string{
	Null: "null", Bit: "bit",
	Int8: "int8", Int16: "int16", Int24: "int24", Int32: "int32", Int64: "int64",
	UInt8: "uint8", UInt16: "uint16", UInt24: "uint24", UInt32: "uint32", UInt64: "uint64",
	Float32: "float32", Float64: "float64", Fixed: "fixed",
	Char: "char", VarChar: "varchar", Text: "text",
	NChar: "nchar", NVarChar: "nvarchar", NText: "ntext",
	Date: "date", Time: "time", DateTime: "datetime",
	Binary: "binary", VarBinary: "varbinary", Blob: "blob",
}

// Types returns all types of the catalogue in declaration order.
func Types() []Type {
	res := make([]Type, 0, len(typeNames))
	for t := Null; t <= Blob; t++ {
		res = append(res, t)
	}
	return res
}

// ParseType returns the type by its name as printed by String, case-insensitive.
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return t, nil
		}
	}
	return Null, fmt.Errorf("%w %q", ErrUndefinedType, name)
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Valid reports whether t belongs to the catalogue.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// IsInteger reports signed and unsigned integer types, bit excluded.
func (t Type) IsInteger() bool { return t >= Int8 && t <= UInt64 }

// IsUnsigned reports unsigned integer types.
func (t Type) IsUnsigned() bool { return t >= UInt8 && t <= UInt64 }

// IsFloat reports floating point types.
func (t Type) IsFloat() bool { return t == Float32 || t == Float64 }

// IsNumeric reports bit, integer, float and fixed point types.
func (t Type) IsNumeric() bool { return t == Bit || t.IsInteger() || t.IsFloat() || t == Fixed }

// IsText reports narrow and wide text types.
func (t Type) IsText() bool { return t >= Char && t <= NText }

// IsWide reports wide (national charset) text types.
func (t Type) IsWide() bool { return t >= NChar && t <= NText }

// IsBinary reports binary types.
func (t Type) IsBinary() bool { return t >= Binary && t <= Blob }

// IsTemporal reports date, time and datetime.
func (t Type) IsTemporal() bool { return t >= Date && t <= DateTime }

// HasLimit reports types with a size limit, i.e. text and binary.
func (t Type) HasLimit() bool { return t.IsText() || t.IsBinary() }

// width returns the storage width in bits of bit and integer types.
func (t Type) width() int {
	switch t {
	case Bit:
		return 1
	case Int8, UInt8:
		return 8
	case Int16, UInt16:
		return 16
	case Int24, UInt24:
		return 24
	case Int32, UInt32, Float32:
		return 32
	default:
		return 64
	}
}
