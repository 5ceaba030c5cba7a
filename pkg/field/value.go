package field

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/umputun/dbx/pkg/dberr"
	"github.com/umputun/dbx/pkg/fixed"
)

// ErrNull returned by typed getters of a null value
var ErrNull = dberr.New(dberr.ErrParameter, "value is null")

// Value holds one value of a field type. The zero Value is a null of type Null.
// It implements sql.Scanner to be fetched into and driver.Valuer to be bound to a placeholder.
// Binary values returned by Value alias the storage and are valid until the next assignment.
type Value struct {
	typ       Type
	pol       policy
	limit     int
	precision int
	decimals  int

	isSet bool
	size  int
	fmt   Formatter

	// storage, only the one for typ is used
	bits uint64 // bit, integers and float bits
	fix  fixed.FixedPoint
	buf  []byte // text and binary
	tm   time.Time
}

// NewValue makes a null value of the type and shape of infos.
// The formatter renders literals, nil means DefaultFormatter.
func NewValue(infos Infos, f Formatter) (*Value, error) {
	v := &Value{fmt: f}
	if err := v.SetType(infos); err != nil {
		return nil, err
	}
	return v, nil
}

// SetType changes the type and shape to the ones of infos and makes the value null.
func (v *Value) SetType(infos Infos) error {
	if err := infos.Validate(); err != nil {
		return err
	}
	pol, err := policyFor(infos.Type)
	if err != nil {
		return err
	}
	v.typ, v.pol = infos.Type, pol
	v.limit, v.precision, v.decimals = 0, 0, 0
	switch {
	case infos.Type == Fixed:
		v.precision, v.decimals = infos.Shape()
	case infos.Type.HasLimit():
		v.limit = infos.Limit
	}
	v.SetNull()
	return nil
}

// Type returns the field type.
func (v *Value) Type() Type { return v.typ }

// Limit returns the size limit of text and binary values, zero is unlimited.
func (v *Value) Limit() int { return v.limit }

// Precision returns the precision of fixed point values.
func (v *Value) Precision() int { return v.precision }

// Decimals returns the decimals of fixed point values.
func (v *Value) Decimals() int { return v.decimals }

// IsNull reports whether the value is null, regardless of the storage content.
func (v *Value) IsNull() bool { return !v.isSet }

// Size returns the byte size of the currently bound representation, zero for null.
func (v *Value) Size() int { return v.size }

// SetFormatter changes the formatter used for literals and statement representation of dates.
func (v *Value) SetFormatter(f Formatter) { v.fmt = f }

// Formatter returns the formatter of the value.
func (v *Value) Formatter() Formatter { return v.formatter() }

func (v *Value) formatter() Formatter {
	if v.fmt == nil {
		return DefaultFormatter{}
	}
	return v.fmt
}

func (v *Value) policy() policy {
	if v.pol == nil {
		return nullPolicy{}
	}
	return v.pol
}

// SetNull resets the storage and makes the value null.
func (v *Value) SetNull() {
	v.policy().reset(v)
	v.isSet, v.size = false, 0
}

// Set assigns in, converting it to the value's type. Nil makes the value null.
// Supported inputs are Go numbers, bool, string, []byte, time.Time, fixed.FixedPoint, *Value and driver.Valuer.
// Conversions never clamp: out of range numbers fail with dberr.ErrArithmetic,
// text and binary over the limit fail with dberr.ErrParameter. A failed Set keeps the previous value.
func (v *Value) Set(in any) error {
	switch x := in.(type) {
	case nil:
		v.SetNull()
		return nil
	case *Value:
		return v.CopyFrom(x)
	case fixed.FixedPoint, time.Time:
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return dberr.Wrap(dberr.ErrParameter, err, fmt.Sprintf("can't get value of %T", in))
		}
		return v.Set(dv)
	}

	size, err := v.policy().set(v, in)
	if err != nil {
		return err
	}
	v.isSet, v.size = true, size
	return nil
}

// SetText parses the textual representation of a value of any type, i.e. "12.50" for Fixed or
// "2024-01-02" for Date.
func (v *Value) SetText(s string) error {
	return v.Set(s)
}

// CopyFrom assigns the value held by src, converting it to the type of v.
func (v *Value) CopyFrom(src *Value) error {
	if src == nil || src.IsNull() {
		v.SetNull()
		return nil
	}
	return v.Set(src.Native())
}

// Scan implements sql.Scanner. Driver-owned bytes are copied.
func (v *Value) Scan(src any) error {
	return v.Set(src)
}

// Value implements driver.Valuer and returns the representation bound to a placeholder.
func (v *Value) Value() (driver.Value, error) {
	if v.IsNull() {
		return nil, nil
	}
	return v.policy().value(v)
}

// Literal returns the value as query text written by the formatter, the formatter's NULL for null values.
func (v *Value) Literal() (string, error) {
	if v.IsNull() {
		return v.formatter().WriteNull(), nil
	}
	return v.policy().literal(v)
}

// Native returns the value as a Go value of the natural type: bool, int64, uint64, float64,
// fixed.FixedPoint, string, []byte (a copy) or time.Time. Nil for null values.
func (v *Value) Native() any {
	if v.IsNull() {
		return nil
	}
	switch {
	case v.typ == Bit:
		return v.bits == 1
	case v.typ.IsUnsigned():
		return v.bits
	case v.typ.IsInteger():
		return int64(v.bits) //nolint:gosec // two's complement storage
	case v.typ.IsFloat():
		return math.Float64frombits(v.bits)
	case v.typ == Fixed:
		return v.fix
	case v.typ.IsText():
		return string(v.buf)
	case v.typ.IsBinary():
		return append([]byte{}, v.buf...)
	case v.typ.IsTemporal():
		return v.tm
	}
	return nil
}

// Bool returns bit values and integers holding 0 or 1.
func (v *Value) Bool() (bool, error) {
	if v.IsNull() {
		return false, ErrNull
	}
	if v.typ == Bit || (v.typ.IsInteger() && v.bits <= 1) {
		return v.bits == 1, nil
	}
	return false, v.unimplemented("bool")
}

// Int64 returns integers, bits, and fixed point or float values without fraction.
func (v *Value) Int64() (int64, error) {
	if v.IsNull() {
		return 0, ErrNull
	}
	switch {
	case v.typ == Bit || (v.typ.IsInteger() && !v.typ.IsUnsigned()):
		return int64(v.bits), nil //nolint:gosec // two's complement storage
	case v.typ.IsUnsigned():
		if v.bits > math.MaxInt64 {
			return 0, dberr.New(dberr.ErrArithmetic, "%d overflows int64", v.bits)
		}
		return int64(v.bits), nil
	case v.typ.IsFloat() || v.typ == Fixed:
		n, _, err := integerOf(v.Native())
		if err != nil {
			return 0, err
		}
		if (n.neg && n.abs > 1<<63) || (!n.neg && n.abs > math.MaxInt64) {
			return 0, dberr.New(dberr.ErrArithmetic, "%s overflows int64", n)
		}
		if n.neg {
			return int64(-n.abs), nil //nolint:gosec // two's complement
		}
		return int64(n.abs), nil
	}
	return 0, v.unimplemented("int64")
}

// Uint64 returns non-negative integers, bits, and fixed point or float values without fraction.
func (v *Value) Uint64() (uint64, error) {
	if v.IsNull() {
		return 0, ErrNull
	}
	if v.typ == Bit || v.typ.IsUnsigned() {
		return v.bits, nil
	}
	if v.typ.IsInteger() || v.typ.IsFloat() || v.typ == Fixed {
		n, _, err := integerOf(v.Native())
		if err != nil {
			return 0, err
		}
		if n.neg {
			return 0, dberr.New(dberr.ErrArithmetic, "negative %s can't be uint64", n)
		}
		return n.abs, nil
	}
	return 0, v.unimplemented("uint64")
}

// Float64 returns any numeric value as float.
func (v *Value) Float64() (float64, error) {
	if v.IsNull() {
		return 0, ErrNull
	}
	switch {
	case v.typ.IsFloat():
		return math.Float64frombits(v.bits), nil
	case v.typ == Fixed:
		return v.fix.Float64(), nil
	case v.typ.IsUnsigned() || v.typ == Bit:
		return float64(v.bits), nil
	case v.typ.IsInteger():
		return float64(int64(v.bits)), nil //nolint:gosec // two's complement storage
	}
	return 0, v.unimplemented("float64")
}

// Fixed returns fixed point values, integers are returned as numbers with no decimals.
func (v *Value) Fixed() (fixed.FixedPoint, error) {
	if v.IsNull() {
		return fixed.FixedPoint{}, ErrNull
	}
	switch {
	case v.typ == Fixed:
		return v.fix, nil
	case v.typ.IsUnsigned() || v.typ == Bit:
		return fixed.FromRawUnsigned(v.bits, fixed.MaxPrecision, 0)
	case v.typ.IsInteger():
		return fixed.FromRaw(int64(v.bits), fixed.MaxPrecision, 0) //nolint:gosec // two's complement storage
	}
	return fixed.FixedPoint{}, v.unimplemented("fixed point")
}

// Text returns text values, numbers and dates are formatted. Binary values are not text.
func (v *Value) Text() (string, error) {
	if v.IsNull() {
		return "", ErrNull
	}
	switch {
	case v.typ.IsText():
		return string(v.buf), nil
	case v.typ == Bit, v.typ.IsUnsigned():
		return strconv.FormatUint(v.bits, 10), nil
	case v.typ.IsInteger():
		return strconv.FormatInt(int64(v.bits), 10), nil //nolint:gosec // two's complement storage
	case v.typ == Float32:
		return strconv.FormatFloat(math.Float64frombits(v.bits), 'g', -1, 32), nil
	case v.typ == Float64:
		return strconv.FormatFloat(math.Float64frombits(v.bits), 'g', -1, 64), nil
	case v.typ == Fixed:
		return v.fix.String(), nil
	case v.typ == Date:
		return v.tm.Format(DateLayout), nil
	case v.typ == Time:
		return v.tm.Format(TimeLayout), nil
	case v.typ == DateTime:
		return v.tm.Format(DateTimeLayout), nil
	}
	return "", v.unimplemented("text")
}

// Bytes returns a copy of binary and text values.
func (v *Value) Bytes() ([]byte, error) {
	if v.IsNull() {
		return nil, ErrNull
	}
	if v.typ.IsBinary() || v.typ.IsText() {
		return append([]byte{}, v.buf...), nil
	}
	return nil, v.unimplemented("bytes")
}

// Time returns date, time and datetime values.
func (v *Value) Time() (time.Time, error) {
	if v.IsNull() {
		return time.Time{}, ErrNull
	}
	if v.typ.IsTemporal() {
		return v.tm, nil
	}
	return time.Time{}, v.unimplemented("time")
}

// String returns the value for display, NULL for null values and hex for binary ones.
func (v *Value) String() string {
	if v.IsNull() {
		return "NULL"
	}
	if v.typ.IsBinary() {
		return hexString(v.buf)
	}
	res, err := v.Text()
	if err != nil {
		return fmt.Sprintf("%v", v.Native())
	}
	return res
}

func (v *Value) unimplemented(what string) error {
	return dberr.New(dberr.ErrUnimplemented, "%s value can't be read as %s", v.typ, what)
}
