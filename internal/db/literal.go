package db

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// TimeLayout is the text form of timestamps stored in SQLite. It sorts
// lexicographically and parses back into time.Time on scan.
const TimeLayout = "2006-01-02 15:04:05.999999"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Raw is an SQL expression rendered verbatim by Literal, such as a sub-select.
type Raw string

// Literal renders v as an SQLite literal.
func Literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case Raw:
		return string(x), nil
	case string:
		return quote(x), nil
	case *string:
		if x == nil {
			return "NULL", nil
		}
		return quote(*x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case *int:
		if x == nil {
			return "NULL", nil
		}
		return strconv.Itoa(*x), nil
	case decimal.Decimal:
		return x.String(), nil
	case decimal.NullDecimal:
		if !x.Valid {
			return "NULL", nil
		}
		return x.Decimal.String(), nil
	case time.Time:
		return quote(FormatTime(x)), nil
	}
	return "", eris.Errorf("db: literal: unsupported type %T", v)
}

// Literals renders each value with Literal.
func Literals(values ...any) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		s, err := Literal(v)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
