package signalset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const maxExponent = 400

var errBadNumber = errors.New("invalid number literal")

// Number is a numeric literal as written in a signalset, normalized to plain
// decimal notation. The zero value means the field was absent.
type Number struct {
	lit string
}

// ParseNumber validates a JSON number literal and expands any exponent into
// plain decimal digits. Digits present in the source, trailing zeros
// included, are kept.
func ParseNumber(s string) (Number, error) {
	lit, err := normalizeLiteral(strings.TrimSpace(s))
	if err != nil {
		return Number{}, fmt.Errorf("%w %q", errBadNumber, s)
	}
	return Number{lit: lit}, nil
}

// MustNumber is ParseNumber for literals known to be valid.
func MustNumber(s string) Number {
	n, err := ParseNumber(s)
	if err != nil {
		panic(err)
	}
	return n
}

func (n Number) IsSet() bool {
	return n.lit != ""
}

func (n Number) String() string {
	return n.lit
}

func (n Number) Float64() float64 {
	if n.lit == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(n.lit, 64)
	return f
}

// Int returns the literal as an int when it has no fractional part.
func (n Number) Int() (int, bool) {
	if n.lit == "" || strings.Contains(n.lit, ".") {
		return 0, false
	}
	v, err := strconv.Atoi(n.lit)
	if err != nil {
		return 0, false
	}
	return v, true
}

func normalizeLiteral(s string) (string, error) {
	if s == "" {
		return "", errBadNumber
	}
	neg := false
	rest := s
	if rest[0] == '-' {
		neg = true
		rest = rest[1:]
	}
	mantissa, expPart, hasExp := cutAny(rest, "eE")
	intPart, fracPart, hasFrac := strings.Cut(mantissa, ".")
	if !allDigits(intPart) || intPart == "" {
		return "", errBadNumber
	}
	if len(intPart) > 1 && intPart[0] == '0' {
		return "", errBadNumber
	}
	if hasFrac && (fracPart == "" || !allDigits(fracPart)) {
		return "", errBadNumber
	}
	if !hasExp {
		return s, nil
	}
	exp, err := strconv.Atoi(expPart)
	if err != nil || expPart == "" || expPart == "+" || expPart == "-" {
		return "", errBadNumber
	}
	if exp > maxExponent || exp < -maxExponent {
		return "", errBadNumber
	}

	digits := intPart + fracPart
	point := len(intPart) + exp
	var out string
	switch {
	case point <= 0:
		out = "0." + strings.Repeat("0", -point) + digits
	case point >= len(digits):
		out = digits + strings.Repeat("0", point-len(digits))
	default:
		out = digits[:point] + "." + digits[point:]
	}
	whole, frac, dotted := strings.Cut(out, ".")
	whole = strings.TrimLeft(whole, "0")
	if whole == "" {
		whole = "0"
	}
	out = whole
	if dotted {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out, nil
}

func cutAny(s, chars string) (before, after string, found bool) {
	if i := strings.IndexAny(s, chars); i >= 0 {
		return s[:i], s[i+1:], true
	}
	return s, "", false
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
