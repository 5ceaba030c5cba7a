// Package fixed implements an exact base-10 fixed-point number with explicit precision and scale,
// used for DECIMAL/NUMERIC columns and parameters.
//
// The mantissa is a 64-bit integer, signed or unsigned. Precision is the total count of significant
// digits, decimals is the count of fractional digits, and 0 <= decimals < precision <= MaxPrecision.
// Values never get clamped: any construction or arithmetic result which needs more digits than
// the precision allows fails with dberr.ErrArithmetic.
package fixed

import (
	"database/sql/driver"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/umputun/dbx/pkg/dberr"
)

// MaxPrecision is the largest precision a 64-bit mantissa can always hold.
const MaxPrecision = 19

// FixedPoint is an exact decimal number. The zero value is an unusable shape-less zero,
// use one of the constructors to make a number.
type FixedPoint struct {
	raw       uint64 // two's complement bits for signed numbers
	precision uint8
	decimals  uint8
	signed    bool
}

// New makes a signed zero with the given shape.
func New(precision, decimals int) (FixedPoint, error) {
	return FromRaw(0, precision, decimals)
}

// FromRaw makes a signed number from a raw mantissa, i.e. FromRaw(12345, 10, 2) is 123.45.
// The mantissa digit count must not exceed precision.
func FromRaw(raw int64, precision, decimals int) (FixedPoint, error) {
	return fromBig(big.NewInt(raw), precision, decimals, true)
}

// FromRawUnsigned makes an unsigned number from a raw mantissa.
func FromRawUnsigned(raw uint64, precision, decimals int) (FixedPoint, error) {
	return fromBig(new(big.Int).SetUint64(raw), precision, decimals, false)
}

// FromInt makes a signed number with the integer value v, i.e. FromInt(123, 10, 2) is 123.00.
// The digit count of v must not exceed precision-decimals.
func FromInt(v int64, precision, decimals int) (FixedPoint, error) {
	if err := checkShape(precision, decimals); err != nil {
		return FixedPoint{}, err
	}
	b := big.NewInt(v)
	if n := digits(b); n > precision-decimals {
		return FixedPoint{}, dberr.New(dberr.ErrArithmetic, "integer %d needs %d digits, only %d allowed by (%d,%d)",
			v, n, precision-decimals, precision, decimals)
	}
	return fromBig(b.Mul(b, pow10(decimals)), precision, decimals, true)
}

// FromFloat makes a signed number from a float, rounded half away from zero to the given decimals.
// The float is taken by its shortest decimal text, so 1.005 rounds to 1.01.
// The integer part must fit into precision-decimals digits.
func FromFloat(v float64, precision, decimals int) (FixedPoint, error) {
	if err := checkShape(precision, decimals); err != nil {
		return FixedPoint{}, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return FixedPoint{}, dberr.New(dberr.ErrArithmetic, "can't make fixed point from %v", v)
	}

	txt := strconv.FormatFloat(math.Abs(v), 'f', -1, 64)
	intPart, fracPart, _ := strings.Cut(txt, ".")
	roundUp := len(fracPart) > decimals && fracPart[decimals] >= '5'
	mant, ok := new(big.Int).SetString(intPart+alignFraction(fracPart, decimals), 10)
	if !ok {
		return FixedPoint{}, dberr.New(dberr.ErrArithmetic, "can't make fixed point from %v", v)
	}
	if roundUp {
		mant.Add(mant, big.NewInt(1))
	}
	if v < 0 {
		mant.Neg(mant)
	}
	res, err := fromBig(mant, precision, decimals, true)
	if err != nil {
		return FixedPoint{}, dberr.Wrap(dberr.ErrArithmetic, err, fmt.Sprintf("float %v doesn't fit (%d,%d)", v, precision, decimals))
	}
	return res, nil
}

// Parse makes a signed number from its decimal text, like "-123.45".
// A missing fraction is scaled up, a short one is padded with zeros and a long one is truncated.
func Parse(s string, precision, decimals int) (FixedPoint, error) {
	return parse(s, precision, decimals, true)
}

// ParseUnsigned is Parse for unsigned numbers, negative input is rejected.
func ParseUnsigned(s string, precision, decimals int) (FixedPoint, error) {
	return parse(s, precision, decimals, false)
}

func parse(s string, precision, decimals int, signed bool) (FixedPoint, error) {
	if err := checkShape(precision, decimals); err != nil {
		return FixedPoint{}, err
	}

	txt := strings.TrimSpace(s)
	neg := false
	switch {
	case strings.HasPrefix(txt, "-"):
		neg, txt = true, txt[1:]
	case strings.HasPrefix(txt, "+"):
		txt = txt[1:]
	}

	intPart, fracPart, _ := strings.Cut(txt, ".")
	if (intPart == "" && fracPart == "") || !isDigits(intPart) || !isDigits(fracPart) {
		return FixedPoint{}, dberr.New(dberr.ErrArithmetic, "invalid fixed point text %q", s)
	}
	if intPart == "" {
		intPart = "0"
	}

	mant, ok := new(big.Int).SetString(intPart+alignFraction(fracPart, decimals), 10)
	if !ok {
		return FixedPoint{}, dberr.New(dberr.ErrArithmetic, "invalid fixed point text %q", s)
	}
	if neg {
		mant.Neg(mant)
	}
	return fromBig(mant, precision, decimals, signed)
}

// Precision returns the total count of significant digits.
func (f FixedPoint) Precision() int { return int(f.precision) }

// Decimals returns the count of fractional digits.
func (f FixedPoint) Decimals() int { return int(f.decimals) }

// Signed reports whether the mantissa is signed.
func (f FixedPoint) Signed() bool { return f.signed }

// IsZero reports whether the number is zero.
func (f FixedPoint) IsZero() bool { return f.raw == 0 }

// Raw returns the signed mantissa. Unsigned mantissas above math.MaxInt64 fail.
func (f FixedPoint) Raw() (int64, error) {
	if !f.signed && f.raw > math.MaxInt64 {
		return 0, dberr.New(dberr.ErrArithmetic, "mantissa %d overflows int64", f.raw)
	}
	return int64(f.raw), nil
}

// RawUnsigned returns the unsigned mantissa. Negative numbers fail.
func (f FixedPoint) RawUnsigned() (uint64, error) {
	if f.signed && int64(f.raw) < 0 {
		return 0, dberr.New(dberr.ErrArithmetic, "negative mantissa %d", int64(f.raw))
	}
	return f.raw, nil
}

// Int64 returns the integer part, truncated toward zero.
func (f FixedPoint) Int64() (int64, error) {
	q, _ := f.split()
	if !q.IsInt64() {
		return 0, dberr.New(dberr.ErrArithmetic, "integer part of %s overflows int64", f)
	}
	return q.Int64(), nil
}

// Uint64 returns the integer part, truncated toward zero. Negative numbers fail.
func (f FixedPoint) Uint64() (uint64, error) {
	q, _ := f.split()
	if q.Sign() < 0 || !q.IsUint64() {
		return 0, dberr.New(dberr.ErrArithmetic, "integer part of %s doesn't fit uint64", f)
	}
	return q.Uint64(), nil
}

// Float64 returns the nearest float.
func (f FixedPoint) Float64() float64 {
	res, err := strconv.ParseFloat(f.String(), 64)
	if err != nil {
		return math.NaN() // never happens, String always makes a valid number
	}
	return res
}

// String returns the decimal text with exactly Decimals() fractional digits.
func (f FixedPoint) String() string {
	b := f.toBig()
	neg := b.Sign() < 0
	txt := new(big.Int).Abs(b).String()
	if d := int(f.decimals); d > 0 {
		if len(txt) <= d {
			txt = strings.Repeat("0", d-len(txt)+1) + txt
		}
		txt = txt[:len(txt)-d] + "." + txt[len(txt)-d:]
	}
	if neg {
		return "-" + txt
	}
	return txt
}

// Value implements driver.Valuer, numbers are bound as their decimal text.
func (f FixedPoint) Value() (driver.Value, error) {
	return f.String(), nil
}

// Equal reports whether both numbers have the same integer part and the same fractional part
// once aligned to the larger scale. Shapes don't have to match, 10.00 (10,2) equals 10 (10,0).
func (f FixedPoint) Equal(o FixedPoint) bool {
	fi, ff := f.split()
	oi, of := o.split()
	if fi.Cmp(oi) != 0 {
		return false
	}
	switch {
	case f.decimals < o.decimals:
		ff.Mul(ff, pow10(int(o.decimals-f.decimals)))
	case f.decimals > o.decimals:
		of.Mul(of, pow10(int(f.decimals-o.decimals)))
	}
	return ff.Cmp(of) == 0
}

// Cmp compares numbers by value and returns -1, 0 or +1.
func (f FixedPoint) Cmp(o FixedPoint) int {
	a, b := f.toBig(), o.toBig()
	switch {
	case f.decimals < o.decimals:
		a.Mul(a, pow10(int(o.decimals-f.decimals)))
	case f.decimals > o.decimals:
		b.Mul(b, pow10(int(f.decimals-o.decimals)))
	}
	return a.Cmp(b)
}

// Add returns f+o in the shape of f.
func (f FixedPoint) Add(o FixedPoint) (FixedPoint, error) {
	ob, err := o.rescale(int(f.decimals))
	if err != nil {
		return FixedPoint{}, dberr.Wrap(dberr.ErrArithmetic, err, "can't add")
	}
	return f.result("add", new(big.Int).Add(f.toBig(), ob))
}

// Sub returns f-o in the shape of f.
func (f FixedPoint) Sub(o FixedPoint) (FixedPoint, error) {
	ob, err := o.rescale(int(f.decimals))
	if err != nil {
		return FixedPoint{}, dberr.Wrap(dberr.ErrArithmetic, err, "can't subtract")
	}
	return f.result("subtract", new(big.Int).Sub(f.toBig(), ob))
}

// Mul returns f*o in the shape of f, extra fractional digits are truncated toward zero.
func (f FixedPoint) Mul(o FixedPoint) (FixedPoint, error) {
	res := new(big.Int).Mul(f.toBig(), o.toBig())
	res.Quo(res, pow10(int(o.decimals)))
	return f.result("multiply", res)
}

// Div returns f/o in the shape of f, extra fractional digits are truncated toward zero.
func (f FixedPoint) Div(o FixedPoint) (FixedPoint, error) {
	if o.raw == 0 {
		return FixedPoint{}, dberr.New(dberr.ErrArithmetic, "can't divide %s by zero", f)
	}
	res := new(big.Int).Mul(f.toBig(), pow10(int(o.decimals)))
	res.Quo(res, o.toBig())
	return f.result("divide", res)
}

func (f FixedPoint) result(op string, v *big.Int) (FixedPoint, error) {
	res, err := fromBig(v, int(f.precision), int(f.decimals), f.signed)
	if err != nil {
		return FixedPoint{}, dberr.Wrap(dberr.ErrArithmetic, err, "can't "+op)
	}
	return res, nil
}

// rescale returns the mantissa aligned to the given decimals. Dropping non-zero digits fails.
func (f FixedPoint) rescale(decimals int) (*big.Int, error) {
	b := f.toBig()
	if int(f.decimals) <= decimals {
		return b.Mul(b, pow10(decimals-int(f.decimals))), nil
	}
	q, r := new(big.Int).QuoRem(b, pow10(int(f.decimals)-decimals), new(big.Int))
	if r.Sign() != 0 {
		return nil, dberr.New(dberr.ErrArithmetic, "%s has more than %d decimals", f, decimals)
	}
	return q, nil
}

// split returns integer and fractional parts, both truncated toward zero and carrying the sign.
func (f FixedPoint) split() (intPart, fracPart *big.Int) {
	return new(big.Int).QuoRem(f.toBig(), pow10(int(f.decimals)), new(big.Int))
}

func (f FixedPoint) toBig() *big.Int {
	if f.signed {
		return big.NewInt(int64(f.raw))
	}
	return new(big.Int).SetUint64(f.raw)
}

func fromBig(v *big.Int, precision, decimals int, signed bool) (FixedPoint, error) {
	if err := checkShape(precision, decimals); err != nil {
		return FixedPoint{}, err
	}
	if n := digits(v); n > precision {
		return FixedPoint{}, dberr.New(dberr.ErrArithmetic, "value %s needs %d digits, precision is %d", v, n, precision)
	}
	res := FixedPoint{precision: uint8(precision), decimals: uint8(decimals), signed: signed} //nolint:gosec // checked by checkShape
	switch {
	case signed && !v.IsInt64():
		return FixedPoint{}, dberr.New(dberr.ErrArithmetic, "value %s overflows signed mantissa", v)
	case signed:
		res.raw = uint64(v.Int64()) //nolint:gosec // two's complement storage
	case v.Sign() < 0:
		return FixedPoint{}, dberr.New(dberr.ErrArithmetic, "negative value %s for unsigned fixed point", v)
	default:
		res.raw = v.Uint64()
	}
	return res, nil
}

func checkShape(precision, decimals int) error {
	if precision < 1 || precision > MaxPrecision {
		return dberr.New(dberr.ErrArithmetic, "precision %d out of range [1,%d]", precision, MaxPrecision)
	}
	if decimals < 0 || decimals >= precision {
		return dberr.New(dberr.ErrArithmetic, "decimals %d out of range [0,%d)", decimals, precision)
	}
	return nil
}

// digits returns the count of decimal digits of |v|, zero has no digits.
func digits(v *big.Int) int {
	if v.Sign() == 0 {
		return 0
	}
	return len(new(big.Int).Abs(v).String())
}

// pow10 returns 10^n using exponentiation by squaring.
func pow10(n int) *big.Int {
	res, base := big.NewInt(1), big.NewInt(10)
	for ; n > 0; n >>= 1 {
		if n&1 == 1 {
			res.Mul(res, base)
		}
		base.Mul(base, base)
	}
	return res
}

// alignFraction pads the fraction digits with zeros or truncates them to exactly decimals digits.
func alignFraction(frac string, decimals int) string {
	if len(frac) < decimals {
		return frac + strings.Repeat("0", decimals-len(frac))
	}
	return frac[:decimals]
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
