// Package valueconv converts raw user input into the value stored for a column.
//
// Conversion is per data type: numbers and currency amounts become float64,
// booleans accept the usual yes/no spellings, dates are normalised to
// YYYY-MM-DD and emails are trimmed and lower-cased.
package valueconv

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

// DateLayout is the canonical stored date format.
const DateLayout = "2006-01-02"

// currencyPlaces is the precision currency amounts are rounded to.
const currencyPlaces = 2

var dateLayouts = []string{
	DateLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2, 2006",
}

// ConversionError reports input that cannot be represented in the column type.
type ConversionError struct {
	DataType core.DataType
	Input    any
	Reason   string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert %v to %s: %s", e.Input, e.DataType, e.Reason)
}

// Coerce converts raw into the stored representation for dataType.
// Empty strings become nil for every type except string and select.
func Coerce(dataType core.DataType, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}

	switch dataType {
	case core.DataTypeNumber:
		return toNumber(dataType, raw, -1)
	case core.DataTypeCurrency:
		return toNumber(dataType, raw, currencyPlaces)
	case core.DataTypeBoolean:
		return toBool(raw)
	case core.DataTypeDate:
		return toDate(raw)
	case core.DataTypeEmail:
		s, ok := raw.(string)
		if !ok {
			return nil, &ConversionError{DataType: dataType, Input: raw, Reason: "not a string"}
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			return nil, nil
		}
		return s, nil
	case core.DataTypeString, core.DataTypeSelect:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return fmt.Sprint(raw), nil
	default:
		return raw, nil
	}
}

func toNumber(dataType core.DataType, raw any, places int32) (any, error) {
	var d decimal.Decimal
	switch v := raw.(type) {
	case int:
		d = decimal.NewFromInt(int64(v))
	case int64:
		d = decimal.NewFromInt(v)
	case float64:
		d = decimal.NewFromFloat(v)
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		parsed, err := ParseAmount(v)
		if err != nil {
			return nil, &ConversionError{DataType: dataType, Input: raw, Reason: err.Error()}
		}
		d = parsed
	default:
		return nil, &ConversionError{DataType: dataType, Input: raw, Reason: fmt.Sprintf("unsupported type %T", raw)}
	}
	if places >= 0 {
		d = d.Round(places)
	}
	return d.InexactFloat64(), nil
}

// ParseAmount parses a locale-formatted amount such as "$1,234.50",
// "€1.234,50", "1 234,5", "USD -5" or "(12.00)". Currency codes and symbols
// are only accepted before or after the number. When both separators appear
// the last one is the decimal mark; a lone comma followed by one or two
// digits is a decimal mark, otherwise it groups thousands.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	// Leading currency and sign, then trailing currency.
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		if r == '-' {
			negative = !negative
			return true
		}
		return isCurrencyAffix(r)
	})
	s = strings.TrimRightFunc(s, isCurrencyAffix)

	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',':
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '\'':
			// group spacing
		default:
			return decimal.Zero, fmt.Errorf("unexpected character %q", r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("no digits")
	}

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		decimals := len(cleaned) - lastComma - 1
		if strings.Count(cleaned, ",") == 1 && decimals > 0 && decimals <= 2 {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case strings.Count(cleaned, ".") > 1:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, err
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func isCurrencyAffix(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsLetter(r) || unicode.Is(unicode.Sc, r)
}

func toBool(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1", "on":
			return true, nil
		case "false", "no", "n", "0", "off", "":
			return false, nil
		}
	}
	return nil, &ConversionError{DataType: core.DataTypeBoolean, Input: raw, Reason: "not a boolean"}
}

func toDate(raw any) (any, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.Format(DateLayout), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format(DateLayout), nil
			}
		}
	}
	return nil, &ConversionError{DataType: core.DataTypeDate, Input: raw, Reason: "unrecognised date"}
}
