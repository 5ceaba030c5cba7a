package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/dbx/pkg/db"
	"github.com/umputun/dbx/pkg/field"
)

func TestParseParams(t *testing.T) {
	testCases := []struct {
		name    string
		param   string
		want    paramSpec
		wantErr string
	}{
		{name: "int with value", param: "id:int32=42",
			want: paramSpec{infos: field.NewInfos("id", field.Int32), value: "42"}},
		{name: "null", param: "id:int64",
			want: paramSpec{infos: field.NewInfos("id", field.Int64), null: true}},
		{name: "empty value is not null", param: "name:text=",
			want: paramSpec{infos: field.NewInfos("name", field.Text)}},
		{name: "value with separators", param: "note:varchar(64)=a:b=c",
			want: paramSpec{infos: field.NewInfos("note", field.VarChar).WithLimit(64), value: "a:b=c"}},
		{name: "fixed with shape", param: "price:fixed(10,2)=9.99",
			want: paramSpec{infos: field.NewInfos("price", field.Fixed).WithShape(10, 2), value: "9.99"}},
		{name: "fixed with precision only", param: "price:fixed(7)=1",
			want: paramSpec{infos: field.NewInfos("price", field.Fixed).WithShape(7, 0), value: "1"}},
		{name: "out", param: "total:int64:out",
			want: paramSpec{infos: field.NewInfos("total", field.Int64), dir: db.Out, null: true}},
		{name: "inout case insensitive", param: "n:INT32:InOut=5",
			want: paramSpec{infos: field.NewInfos("n", field.Int32), dir: db.InOut, value: "5"}},
		{name: "explicit in", param: "d:date:in=2024-01-02",
			want: paramSpec{infos: field.NewInfos("d", field.Date), dir: db.In, value: "2024-01-02"}},
		{name: "no type", param: "id=1", wantErr: "expected name:type"},
		{name: "too many parts", param: "a:int32:in:x=1", wantErr: "expected name:type"},
		{name: "unknown type", param: "a:number=1", wantErr: "number"},
		{name: "unknown direction", param: "a:int32:both=1", wantErr: "unknown parameter direction"},
		{name: "out with value", param: "a:int32:out=1", wantErr: "out parameter can't have a value"},
		{name: "bad size", param: "a:varchar(x)=1", wantErr: "invalid type size"},
		{name: "unclosed size", param: "a:varchar(10=1", wantErr: "unclosed type size"},
		{name: "bad decimals", param: "a:fixed(10,x)=1", wantErr: "invalid type decimals"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := parseParams([]string{tc.param})
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, res, 1)
			assert.Equal(t, tc.want, res[0])
		})
	}
}

func TestReturnsRows(t *testing.T) {
	testCases := []struct {
		query string
		want  bool
	}{
		{"SELECT 1", true},
		{"  select * from t", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"(SELECT 1) UNION (SELECT 2)", true},
		{"-- comment\nSELECT 1", true},
		{"/* block */ show tables", true},
		{"PRAGMA table_info(t)", true},
		{"EXPLAIN SELECT 1", true},
		{"INSERT INTO t VALUES (1)", false},
		{"UPDATE t SET a = 1", false},
		{"SET ? = 1", false},
		{"selected", false},
		{"/* unclosed", false},
		{"", false},
	}

	for _, tc := range testCases {
		t.Run(tc.query, func(t *testing.T) {
			assert.Equal(t, tc.want, returnsRows(tc.query))
		})
	}
}
