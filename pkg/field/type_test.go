package field

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/dbx/pkg/dberr"
)

func TestType_Catalogue(t *testing.T) {
	types := Types()
	require.Len(t, types, 27)
	assert.Equal(t, Null, types[0])
	assert.Equal(t, Blob, types[len(types)-1])

	for _, typ := range types {
		parsed, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
		assert.True(t, typ.Valid())
	}

	parsed, err := ParseType(" NVarChar ")
	require.NoError(t, err)
	assert.Equal(t, NVarChar, parsed)

	_, err = ParseType("decimal128")
	require.ErrorIs(t, err, ErrUndefinedType)
	assert.False(t, Type(99).Valid())
	assert.Equal(t, "type(99)", Type(99).String())
}

func TestType_Predicates(t *testing.T) {
	assert.True(t, Int24.IsInteger())
	assert.False(t, Bit.IsInteger())
	assert.True(t, UInt24.IsUnsigned())
	assert.False(t, Int64.IsUnsigned())
	assert.True(t, Fixed.IsNumeric())
	assert.True(t, NChar.IsText())
	assert.True(t, NChar.IsWide())
	assert.False(t, Char.IsWide())
	assert.True(t, VarBinary.IsBinary())
	assert.True(t, VarBinary.HasLimit())
	assert.False(t, Fixed.HasLimit())
	assert.True(t, Time.IsTemporal())
	assert.Equal(t, 24, UInt24.width())
}

func TestInfos(t *testing.T) {
	infos := NewInfos("amount", Fixed).WithShape(10, 2)
	assert.Equal(t, "amount fixed(10,2)", infos.String())
	require.NoError(t, infos.Validate())

	infos.SetType(VarChar)
	assert.Equal(t, Infos{Name: "amount", Type: VarChar}, infos, "shape is reset with the type")
	assert.Equal(t, "amount varchar", infos.String())
	assert.Equal(t, "amount varchar(12)", infos.WithLimit(12).String())

	p, d := NewInfos("x", Fixed).Shape()
	assert.Equal(t, DefaultPrecision, p)
	assert.Equal(t, DefaultDecimals, d)

	require.ErrorIs(t, NewInfos("x", Text).WithLimit(-1).Validate(), dberr.ErrParameter)
	require.ErrorIs(t, Infos{Name: "x", Type: -3}.Validate(), ErrUndefinedType)
}

func TestParseDateTime(t *testing.T) {
	testCases := []struct {
		inp     string
		want    time.Time
		wantErr bool
	}{
		{inp: "2024-01-02 03:04:05", want: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{inp: "2024-01-02 03:04:05.123456", want: time.Date(2024, 1, 2, 3, 4, 5, 123456000, time.UTC)},
		{inp: "2024-01-02T03:04:05", want: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{inp: "2024-01-02T03:04:05Z", want: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{inp: "2024-01-02 03:04", want: time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)},
		{inp: " 2024-01-02 ", want: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{inp: "2024-13-02", wantErr: true},
		{inp: "yesterday", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.inp, func(t *testing.T) {
			res, err := ParseDateTime(tc.inp)
			if tc.wantErr {
				require.ErrorIs(t, err, dberr.ErrParameter)
				return
			}
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(res), "got %v", res)
		})
	}

	withZone, err := ParseDateTime("2024-01-02 03:04:05+02:00")
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 1, 2, 1, 4, 5, 0, time.UTC).Equal(withZone))
}

func TestParseDateAndTime(t *testing.T) {
	d, err := ParseDate("2024-01-02 03:04:05")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), d)

	tm, err := ParseTime("03:04:05.5")
	require.NoError(t, err)
	assert.Equal(t, time.Date(0, 1, 1, 3, 4, 5, 500000000, time.UTC), tm)

	tm, err = ParseTime("23:15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(0, 1, 1, 23, 15, 0, 0, time.UTC), tm)

	_, err = ParseTime("2024-01-02")
	require.ErrorIs(t, err, dberr.ErrParameter, "a date alone has no time")

	_, err = ParseTime("25:00:00")
	require.ErrorIs(t, err, dberr.ErrParameter)
}
