package db

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpsert = UpsertConfig{
	Table:        "product",
	Columns:      []string{"sku", "name", "brand"},
	ConflictKeys: []string{"sku"},
	Overwrite:    []string{"name"},
	Coalesce:     []string{"brand"},
	Touch:        []string{"updated_at"},
	Returning:    []string{"id"},
}

func TestUpsertSQL_Dollar(t *testing.T) {
	got, err := testUpsert.SQL(Dollar)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "product" ("sku", "name", "brand") VALUES ($1, $2, $3) ON CONFLICT ("sku") `+
			`DO UPDATE SET "name" = excluded."name", "brand" = COALESCE(excluded."brand", "product"."brand"), `+
			`"updated_at" = CURRENT_TIMESTAMP RETURNING "id"`,
		got)
}

func TestUpsertSQL_Question(t *testing.T) {
	got := testUpsert.MustSQL(Question)
	assert.Contains(t, got, `VALUES (?, ?, ?)`)
}

func TestUpsertSQL_DoNothing(t *testing.T) {
	cfg := UpsertConfig{Table: "alias", Columns: []string{"product_id", "alt_sku"}, ConflictKeys: []string{"alt_sku"}}
	got, err := cfg.SQL(Question)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "alias" ("product_id", "alt_sku") VALUES (?, ?) ON CONFLICT ("alt_sku") DO NOTHING`, got)
}

func TestUpsertSQL_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  UpsertConfig
		want string
	}{
		{"no table", UpsertConfig{Columns: []string{"id"}, ConflictKeys: []string{"id"}}, "no table specified"},
		{"no columns", UpsertConfig{Table: "t", ConflictKeys: []string{"id"}}, "no columns specified"},
		{"no conflict keys", UpsertConfig{Table: "t", Columns: []string{"id"}}, "no conflict keys specified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.SQL(Dollar)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := testUpsert.Build([]string{"'a'"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 values for 3 columns")
}

func TestUpsertBuild_Literals(t *testing.T) {
	values, err := Literals("O'Brien's", "Widget", Raw("(SELECT 1)"))
	require.NoError(t, err)

	got, err := testUpsert.Build(values)
	require.NoError(t, err)
	assert.Contains(t, got, `VALUES ('O''Brien''s', 'Widget', (SELECT 1))`)
}

func TestLiteral(t *testing.T) {
	s := "x"
	n := 4
	var nilStr *string
	var nilInt *int

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "NULL"},
		{"string", "it's", "'it''s'"},
		{"string ptr", &s, "'x'"},
		{"nil string ptr", nilStr, "NULL"},
		{"int", 7, "7"},
		{"int64", int64(9), "9"},
		{"int ptr", &n, "4"},
		{"nil int ptr", nilInt, "NULL"},
		{"decimal", decimal.RequireFromString("12.50"), "12.5"},
		{"null decimal", decimal.NullDecimal{}, "NULL"},
		{"time", time.Date(2024, 3, 20, 10, 15, 0, 0, time.UTC), "'2024-03-20 10:15:00'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Literal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Literal(struct{}{})
	assert.Error(t, err)
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"deals.product", `"deals"."product"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}
