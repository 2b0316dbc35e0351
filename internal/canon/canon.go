// Package canon normalizes repository metadata before it is indexed.
package canon

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ErrUnparseableDate is wrapped by Date when no layout matches.
var ErrUnparseableDate = errors.New("unparseable date")

// AccessionedKey is excluded from date normalization; it feeds embargo math instead.
const AccessionedKey = "dc.date.accessioned"

// LastModifiedKey is normalized like the dc.date namespace.
const LastModifiedKey = "lastModified"

// CanonicalLayout is the output form of normalized dates.
const CanonicalLayout = "2006-01-02 15:04:05"

// corrections are literal fixes for known bad upstream values.
var corrections = map[string]string{
	"20018-7":    "2018-7",
	"0022-08-01": "2022-08-01",
}

// partialLayouts cover year and year-month values; missing parts default to 1.
var partialLayouts = []string{"2006-1", "2006-01", "2006"}

var reZone = regexp.MustCompile(`(?i)(z|utc|gmt|[+-]\d{2}:?\d{2})$`)

// IsDateKey reports whether the value stored under key is run through Date.
func IsDateKey(key string) bool {
	return (strings.HasPrefix(key, "dc.date") && key != AccessionedKey) || key == LastModifiedKey
}

// Correct applies the literal corrections.
func Correct(value string) string {
	if fixed, ok := corrections[value]; ok {
		return fixed
	}
	return value
}

// Date corrects value and re-renders it in CanonicalLayout. A zone offset is
// appended only when the input carried one.
func Date(value string) (string, error) {
	v := strings.TrimSpace(Correct(value))
	if v == "" {
		return "", fmt.Errorf("%w: empty value", ErrUnparseableDate)
	}
	t, err := parse(v)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrUnparseableDate, value, err)
	}
	out := t.Format(CanonicalLayout)
	if us := t.Nanosecond() / 1000; us != 0 {
		out += fmt.Sprintf(".%06d", us)
	}
	if reZone.MatchString(v) {
		out += t.Format("-07:00")
	}
	return out, nil
}

func parse(v string) (time.Time, error) {
	for _, layout := range partialLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return dateparse.ParseIn(v, time.UTC)
}

// FieldName maps a metadata key to its output field: shallow keys (fewer than
// three dot segments) get a ".text" suffix, deeper keys are used as-is.
func FieldName(key string) string {
	if len(strings.Split(key, ".")) < 3 {
		return key + ".text"
	}
	return key
}

// Value returns the output field name and the normalized value for one pair.
func Value(key, value string) (string, string, error) {
	if IsDateKey(key) {
		d, err := Date(value)
		if err != nil {
			return "", "", fmt.Errorf("%s: %w", key, err)
		}
		value = d
	}
	return FieldName(key), value, nil
}
