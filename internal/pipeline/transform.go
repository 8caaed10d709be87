package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Field coercion for loosely-typed producer output. Each helper reports
// whether the value could be used; none of them fails.

var (
	currencyPrefixPattern = regexp.MustCompile(`(?i)^(?:rp|idr)\.?|^\$`)
	groupedDigitsPattern  = regexp.MustCompile(`^\d[\d.,]*$`)
)

// getListField returns m[key] as a list.
func getListField(m map[string]interface{}, key string) ([]interface{}, bool) {
	switch val := m[key].(type) {
	case []interface{}:
		return val, true
	case []map[string]interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out, true
	case []string:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out, true
	default:
		return nil, false
	}
}

// getStringField returns m[key] rendered as a trimmed string. Objects and
// lists are not strings.
func getStringField(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	return coerceString(v)
}

func coerceString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), true
	case json.Number:
		return val.String(), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case bool:
		return strconv.FormatBool(val), true
	case decimal.Decimal:
		return val.String(), true
	case fmt.Stringer:
		return strings.TrimSpace(val.String()), true
	default:
		return "", false
	}
}

// Amounts must fit BigQuery NUMERIC: 29 integer digits and 9 decimal places.
const (
	maxAmountIntegerDigits = 29
	maxAmountScale         = 9
)

// coerceDecimal converts numbers and numeric strings to a decimal. Strings
// may carry an Rp, IDR or $ prefix, a leading minus sign or accounting
// parentheses, and "," or "." digit grouping. Values outside the amount
// bounds are not coercible.
func coerceDecimal(v interface{}) (decimal.Decimal, bool) {
	d, ok := decimalValue(v)
	if !ok {
		return decimal.Decimal{}, false
	}
	return boundAmount(d)
}

// boundAmount rounds d to maxAmountScale places and rejects values with more
// than maxAmountIntegerDigits integer digits. The checks look at the
// coefficient and exponent only, so "1e900000000" is rejected without being
// expanded.
func boundAmount(d decimal.Decimal) (decimal.Decimal, bool) {
	if d.IsZero() {
		return decimal.Zero, true
	}
	exp := int64(d.Exponent())
	digits := int64(d.NumDigits())
	if digits+exp > maxAmountIntegerDigits {
		return decimal.Decimal{}, false
	}
	if exp < 0 && -exp > maxAmountIntegerDigits+maxAmountScale {
		if digits+exp < -maxAmountScale {
			// Rounds to zero at maxAmountScale places.
			return decimal.Zero, true
		}
		return decimal.Decimal{}, false
	}
	if exp < -maxAmountScale {
		d = d.Round(maxAmountScale)
	}
	return d, true
}

func decimalValue(v interface{}) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, true
	case *decimal.Decimal:
		if val == nil {
			return decimal.Decimal{}, false
		}
		return *val, true
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(val), true
	case float32:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat32(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int32:
		return decimal.NewFromInt32(val), true
	case int64:
		return decimal.NewFromInt(val), true
	case string:
		return parseAmountString(val)
	default:
		return decimal.Decimal{}, false
	}
}

func parseAmountString(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	negative := false

	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = strings.TrimSpace(s[1:])
	}
	if loc := currencyPrefixPattern.FindStringIndex(s); loc != nil {
		s = strings.TrimSpace(s[loc[1]:])
	}
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = strings.TrimSpace(s[1:])
	}
	s = strings.ReplaceAll(s, " ", "")

	var (
		d   decimal.Decimal
		err error
	)
	switch {
	case groupedDigitsPattern.MatchString(s):
		d, err = parseGroupedNumber(s)
	case s != "":
		d, err = decimal.NewFromString(s)
	default:
		return decimal.Decimal{}, false
	}
	if err != nil {
		return decimal.Decimal{}, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// coerceDate accepts a civil.Date, a time.Time, or a string starting with
// YYYY-MM-DD (so RFC 3339 timestamps work too).
func coerceDate(v interface{}) (civil.Date, bool) {
	switch val := v.(type) {
	case civil.Date:
		return val, val.IsValid()
	case time.Time:
		if val.IsZero() {
			return civil.Date{}, false
		}
		return civil.DateOf(val), true
	case string:
		s := strings.TrimSpace(val)
		if len(s) < len("2006-01-02") {
			return civil.Date{}, false
		}
		d, err := civil.ParseDate(s[:len("2006-01-02")])
		if err != nil || !d.IsValid() {
			return civil.Date{}, false
		}
		return d, true
	default:
		return civil.Date{}, false
	}
}

// coerceTransactionType maps a value onto income or expense.
func coerceTransactionType(v interface{}) (TransactionType, bool) {
	s, _ := coerceString(v)
	switch TransactionType(strings.ToLower(s)) {
	case TransactionTypeIncome:
		return TransactionTypeIncome, true
	case TransactionTypeExpense:
		return TransactionTypeExpense, true
	default:
		return TransactionTypeExpense, false
	}
}
