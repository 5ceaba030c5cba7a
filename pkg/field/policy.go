package field

import (
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/umputun/dbx/pkg/dberr"
	"github.com/umputun/dbx/pkg/fixed"
)

// ErrUndefinedType returned for a type tag outside of the catalogue
var ErrUndefinedType = dberr.New(dberr.ErrParameter, "undefined field type")

// policy implements value handling for one type. All operations get a value of the policy's type,
// set and literal are never called on a null value, reset and value tolerate it.
type policy interface {
	// reset clears the storage to the zero of the type
	reset(v *Value)
	// set converts a Go or driver value into the storage and returns the size of the stored representation
	set(v *Value, in any) (size int, err error)
	// value returns the view bound to a statement placeholder, slices alias the storage
	value(v *Value) (driver.Value, error)
	// literal returns the value written as query text
	literal(v *Value) (string, error)
}

// policyFor resolves the policy of a type. Every type of the catalogue has exactly one.
func policyFor(t Type) (policy, error) {
	switch t {
	case Null:
		return nullPolicy{}, nil
	case Bit:
		return bitPolicy{}, nil
	case Int8, Int16, Int24, Int32, Int64:
		return intPolicy{width: t.width()}, nil
	case UInt8, UInt16, UInt24, UInt32, UInt64:
		return intPolicy{width: t.width(), unsigned: true}, nil
	case Float32:
		return floatPolicy{single: true}, nil
	case Float64:
		return floatPolicy{}, nil
	case Fixed:
		return fixedPolicy{}, nil
	case Char, VarChar, Text:
		return textPolicy{}, nil
	case NChar, NVarChar, NText:
		return textPolicy{wide: true}, nil
	case Date, Time, DateTime:
		return temporalPolicy{typ: t}, nil
	case Binary, VarBinary, Blob:
		return binaryPolicy{}, nil
	}
	return nil, fmt.Errorf("%w %d", ErrUndefinedType, int(t))
}

func unsupported(t Type, in any) error {
	return dberr.New(dberr.ErrParameter, "can't assign %T to %s", in, t)
}

type nullPolicy struct{}

func (nullPolicy) reset(*Value) {}

func (nullPolicy) set(_ *Value, in any) (int, error) {
	return 0, unsupported(Null, in)
}

func (nullPolicy) value(*Value) (driver.Value, error) { return nil, nil }

func (nullPolicy) literal(v *Value) (string, error) { return v.formatter().WriteNull(), nil }

type bitPolicy struct{}

func (bitPolicy) reset(v *Value) { v.bits = 0 }

func (bitPolicy) set(v *Value, in any) (int, error) {
	var b bool
	switch x := in.(type) {
	case bool:
		b = x
	case string, []byte:
		txt := strings.TrimSpace(asString(x))
		switch {
		case txt == "\x00" || txt == "":
			b = false
		case txt == "\x01":
			b = true
		default:
			res, err := strconv.ParseBool(txt)
			if err != nil {
				return 0, dberr.New(dberr.ErrParameter, "invalid bit %q", txt)
			}
			b = res
		}
	default:
		n, ok, err := integerOf(in)
		if !ok {
			return 0, unsupported(Bit, in)
		}
		if err != nil || n.neg || n.abs > 1 {
			return 0, dberr.New(dberr.ErrArithmetic, "bit can't hold %v", in)
		}
		b = n.abs == 1
	}
	v.bits = 0
	if b {
		v.bits = 1
	}
	return 1, nil
}

func (bitPolicy) value(v *Value) (driver.Value, error) { return v.bits == 1, nil }

func (bitPolicy) literal(v *Value) (string, error) { return v.formatter().WriteBool(v.bits == 1), nil }

// intPolicy keeps signed integers as two's complement bits and unsigned ones as is.
type intPolicy struct {
	width    int
	unsigned bool
}

func (p intPolicy) typ() Type {
	for _, t := range []Type{Int8, Int16, Int24, Int32, Int64} {
		if t.width() == p.width {
			if p.unsigned {
				return t + UInt8 - Int8
			}
			return t
		}
	}
	return Null
}

func (intPolicy) reset(v *Value) { v.bits = 0 }

func (p intPolicy) set(v *Value, in any) (int, error) {
	n, ok, err := integerOf(in)
	if !ok {
		return 0, unsupported(p.typ(), in)
	}
	if err != nil {
		return 0, err
	}
	if p.unsigned {
		if n.neg || (p.width < 64 && n.abs > 1<<p.width-1) {
			return 0, dberr.New(dberr.ErrArithmetic, "%v is out of %s range", in, p.typ())
		}
		v.bits = n.abs
		return p.width / 8, nil
	}
	limit := uint64(1) << (p.width - 1) // |min|, max is one less
	if (!n.neg && n.abs >= limit) || (n.neg && n.abs > limit) {
		return 0, dberr.New(dberr.ErrArithmetic, "%v is out of %s range", in, p.typ())
	}
	v.bits = n.abs
	if n.neg {
		v.bits = -n.abs
	}
	return p.width / 8, nil
}

func (p intPolicy) value(v *Value) (driver.Value, error) {
	if p.unsigned && v.bits > math.MaxInt64 {
		return strconv.FormatUint(v.bits, 10), nil
	}
	return int64(v.bits), nil //nolint:gosec // two's complement storage
}

func (p intPolicy) literal(v *Value) (string, error) {
	if p.unsigned {
		return strconv.FormatUint(v.bits, 10), nil
	}
	return strconv.FormatInt(int64(v.bits), 10), nil //nolint:gosec // two's complement storage
}

// floatPolicy keeps floats as float64 bits, single precision values are range checked on set.
type floatPolicy struct {
	single bool
}

func (floatPolicy) reset(v *Value) { v.bits = 0 }

func (p floatPolicy) set(v *Value, in any) (int, error) {
	t, size := Float64, 8
	if p.single {
		t, size = Float32, 4
	}
	var f float64
	switch x := in.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case fixed.FixedPoint:
		f = x.Float64()
	case string, []byte:
		res, err := strconv.ParseFloat(strings.TrimSpace(asString(x)), 64)
		if err != nil {
			return 0, dberr.New(dberr.ErrParameter, "invalid %s %q", t, asString(x))
		}
		f = res
	default:
		n, ok, err := integerOf(in)
		if !ok {
			return 0, unsupported(t, in)
		}
		if err != nil {
			return 0, err
		}
		f = float64(n.abs)
		if n.neg {
			f = -f
		}
	}
	if p.single && !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
		return 0, dberr.New(dberr.ErrArithmetic, "%v is out of float32 range", in)
	}
	if p.single {
		f = float64(float32(f))
	}
	v.bits = math.Float64bits(f)
	return size, nil
}

func (floatPolicy) value(v *Value) (driver.Value, error) { return math.Float64frombits(v.bits), nil }

func (p floatPolicy) literal(v *Value) (string, error) {
	f := math.Float64frombits(v.bits)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return v.formatter().WriteText(strconv.FormatFloat(f, 'g', -1, 64)), nil
	}
	if p.single {
		return strconv.FormatFloat(f, 'g', -1, 32), nil
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

type fixedPolicy struct{}

func (fixedPolicy) reset(v *Value) {
	v.fix, _ = fixed.New(v.precision, v.decimals) // shape validated by NewValue
}

func (fixedPolicy) set(v *Value, in any) (int, error) {
	var res fixed.FixedPoint
	var err error
	switch x := in.(type) {
	case fixed.FixedPoint:
		zero, zerr := fixed.New(v.precision, v.decimals)
		if zerr != nil {
			return 0, zerr
		}
		res, err = zero.Add(x)
	case float64:
		res, err = fixed.FromFloat(x, v.precision, v.decimals)
	case float32:
		res, err = fixed.FromFloat(float64(x), v.precision, v.decimals)
	case string, []byte:
		res, err = fixed.Parse(asString(x), v.precision, v.decimals)
	default:
		n, ok, nerr := integerOf(in)
		switch {
		case !ok:
			return 0, unsupported(Fixed, in)
		case nerr != nil:
			return 0, nerr
		case (n.neg && n.abs > 1<<63) || (!n.neg && n.abs > math.MaxInt64):
			return 0, dberr.New(dberr.ErrArithmetic, "%v doesn't fit fixed(%d,%d)", in, v.precision, v.decimals)
		case n.neg:
			res, err = fixed.FromInt(int64(-n.abs), v.precision, v.decimals) //nolint:gosec // two's complement
		default:
			res, err = fixed.FromInt(int64(n.abs), v.precision, v.decimals)
		}
	}
	if err != nil {
		return 0, err
	}
	v.fix = res
	return 8, nil
}

func (fixedPolicy) value(v *Value) (driver.Value, error) { return v.fix.String(), nil }

func (fixedPolicy) literal(v *Value) (string, error) { return v.fix.String(), nil }

// textPolicy keeps text as bytes. Narrow text is limited and sized in bytes,
// wide text is limited in characters and sized in UTF-16 code units.
type textPolicy struct {
	wide bool
}

func (textPolicy) reset(v *Value) { v.buf = v.buf[:0] }

func (p textPolicy) set(v *Value, in any) (int, error) {
	var txt string
	switch x := in.(type) {
	case string:
		txt = x
	case []byte:
		txt = string(x)
	case bool:
		txt = strconv.FormatBool(x)
	case float64:
		txt = strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		txt = strconv.FormatFloat(float64(x), 'g', -1, 32)
	case fixed.FixedPoint:
		txt = x.String()
	case time.Time:
		txt = x.Format(DateTimeLayout)
	case fmt.Stringer:
		txt = x.String()
	default:
		n, ok, err := integerOf(in)
		if !ok || err != nil {
			return 0, unsupported(v.typ, in)
		}
		txt = n.String()
	}

	if p.wide && !utf8.ValidString(txt) {
		return 0, dberr.New(dberr.ErrParameter, "invalid UTF-8 for %s", v.typ)
	}
	length, size := len(txt), len(txt)
	if p.wide {
		length = utf8.RuneCountInString(txt)
		size = 2 * len(utf16.Encode([]rune(txt)))
	}
	if v.limit > 0 && length > v.limit {
		return 0, dberr.New(dberr.ErrParameter, "%s(%d) can't hold %d characters", v.typ, v.limit, length)
	}
	v.buf = append(v.buf[:0], txt...)
	return size, nil
}

func (textPolicy) value(v *Value) (driver.Value, error) { return string(v.buf), nil }

func (p textPolicy) literal(v *Value) (string, error) {
	if p.wide {
		return v.formatter().WriteNText(string(v.buf)), nil
	}
	return v.formatter().WriteText(string(v.buf)), nil
}

type binaryPolicy struct{}

func (binaryPolicy) reset(v *Value) { v.buf = v.buf[:0] }

func (binaryPolicy) set(v *Value, in any) (int, error) {
	var b []byte
	switch x := in.(type) {
	case []byte:
		b = x
	case string:
		b = []byte(x)
	default:
		return 0, unsupported(v.typ, in)
	}
	if v.limit > 0 && len(b) > v.limit {
		return 0, dberr.New(dberr.ErrParameter, "%s(%d) can't hold %d bytes", v.typ, v.limit, len(b))
	}
	v.buf = append(v.buf[:0], b...)
	return len(b), nil
}

// value returns the storage itself, the slice is valid until the next assignment
func (binaryPolicy) value(v *Value) (driver.Value, error) {
	if v.buf == nil {
		return []byte{}, nil // nil slice binds as NULL
	}
	return v.buf, nil
}

func (binaryPolicy) literal(v *Value) (string, error) { return v.formatter().WriteBinary(v.buf), nil }

// temporalPolicy keeps dates as midnight and times of day on the zero date.
type temporalPolicy struct {
	typ Type
}

func (temporalPolicy) reset(v *Value) { v.tm = time.Time{} }

func (p temporalPolicy) set(v *Value, in any) (int, error) {
	var t time.Time
	switch x := in.(type) {
	case time.Time:
		t = x
	case string, []byte:
		var err error
		switch p.typ {
		case Date:
			t, err = ParseDate(asString(x))
		case Time:
			t, err = ParseTime(asString(x))
		default:
			t, err = ParseDateTime(asString(x))
		}
		if err != nil {
			return 0, err
		}
	default:
		return 0, unsupported(p.typ, in)
	}

	switch p.typ {
	case Date:
		t = DateOf(t)
	case Time:
		t = TimeOf(t)
	}
	v.tm = t
	return sizeOf(p.stmt(v)), nil
}

func (p temporalPolicy) stmt(v *Value) driver.Value {
	switch p.typ {
	case Date:
		return v.formatter().StmtDate(v.tm)
	case Time:
		return v.formatter().StmtTime(v.tm)
	default:
		return v.formatter().StmtDateTime(v.tm)
	}
}

func (p temporalPolicy) value(v *Value) (driver.Value, error) { return p.stmt(v), nil }

func (p temporalPolicy) literal(v *Value) (string, error) {
	switch p.typ {
	case Date:
		return v.formatter().WriteDate(v.tm), nil
	case Time:
		return v.formatter().WriteTime(v.tm), nil
	default:
		return v.formatter().WriteDateTime(v.tm), nil
	}
}

// nativeTimeSize is the size of a bound time.Time, the largest binary temporal of the MySQL protocol
const nativeTimeSize = 12

// sizeOf returns the byte size of a driver value as it goes to a statement
func sizeOf(dv driver.Value) int {
	switch x := dv.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64:
		return 8
	case string:
		return len(x)
	case []byte:
		return len(x)
	case time.Time:
		return nativeTimeSize
	default:
		return len(fmt.Sprint(x))
	}
}

// integer is a sign and magnitude pair able to hold any Go integer
type integer struct {
	abs uint64
	neg bool
}

func (n integer) String() string {
	if n.neg {
		return "-" + strconv.FormatUint(n.abs, 10)
	}
	return strconv.FormatUint(n.abs, 10)
}

// integerOf converts integer inputs. Floats and fixed point numbers are accepted when integral,
// text when it parses as an integer. ok is false for inputs which are not numbers at all.
func integerOf(in any) (n integer, ok bool, err error) {
	signed := func(x int64) (integer, bool, error) {
		if x < 0 {
			return integer{abs: uint64(-(x + 1)) + 1, neg: true}, true, nil //nolint:gosec // -(x+1) is never negative
		}
		return integer{abs: uint64(x)}, true, nil
	}
	switch x := in.(type) {
	case int:
		return signed(int64(x))
	case int8:
		return signed(int64(x))
	case int16:
		return signed(int64(x))
	case int32:
		return signed(int64(x))
	case int64:
		return signed(x)
	case uint:
		return integer{abs: uint64(x)}, true, nil
	case uint8:
		return integer{abs: uint64(x)}, true, nil
	case uint16:
		return integer{abs: uint64(x)}, true, nil
	case uint32:
		return integer{abs: uint64(x)}, true, nil
	case uint64:
		return integer{abs: x}, true, nil
	case bool:
		if x {
			return integer{abs: 1}, true, nil
		}
		return integer{}, true, nil
	case float32:
		return integerOf(float64(x))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) || math.Abs(x) >= 1<<64 {
			return integer{}, true, dberr.New(dberr.ErrArithmetic, "%v is not an integer", x)
		}
		if x < 0 {
			return integer{abs: uint64(-x), neg: true}, true, nil
		}
		return integer{abs: uint64(x)}, true, nil
	case fixed.FixedPoint:
		return integerOf(x.String())
	case string, []byte:
		return parseInteger(asString(x))
	}
	return integer{}, false, nil
}

func parseInteger(s string) (integer, bool, error) {
	txt, neg := strings.TrimSpace(s), false
	switch {
	case strings.HasPrefix(txt, "-"):
		txt, neg = txt[1:], true
	case strings.HasPrefix(txt, "+"):
		txt = txt[1:]
	}
	// integral fixed point text like "12.000" is accepted
	if i := strings.IndexByte(txt, '.'); i >= 0 {
		if strings.Trim(txt[i+1:], "0") != "" {
			return integer{}, true, dberr.New(dberr.ErrArithmetic, "%q is not an integer", s)
		}
		txt = txt[:i]
	}
	abs, err := strconv.ParseUint(txt, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return integer{}, true, dberr.New(dberr.ErrArithmetic, "%q overflows 64 bits", s)
		}
		return integer{}, true, dberr.New(dberr.ErrParameter, "invalid integer %q", s)
	}
	return integer{abs: abs, neg: neg && abs != 0}, true, nil
}

func asString(in any) string {
	switch x := in.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	}
	return fmt.Sprint(in)
}

// hexString is used by Value.String to print binary values
func hexString(b []byte) string { return "0x" + hex.EncodeToString(b) }
