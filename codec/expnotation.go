package codec

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	expFieldWidth = 8
	mantissaScale = 1e5
	minExponent   = -9
)

// EncodeExponent renders v in the 8-column "±MMMMM±E" notation used for the
// second derivative of mean motion and B*: a five-digit mantissa with an
// implied leading decimal point, followed by a signed base-10 exponent.
//
//	0.0     -> " 00000-0"
//	1.0     -> " 10000+1"
//	4.08e-5 -> " 40800-4"
func EncodeExponent(v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fmt.Errorf("%w: %v has no exponent notation", ErrEncodingOverflow, v)
	}
	abs := math.Abs(v)
	if abs >= 10 {
		return "", fmt.Errorf("%w: |%v| >= 10", ErrEncodingOverflow, v)
	}

	sign := byte(' ')
	if v < 0 {
		sign = '-'
	}

	exp := 0
	digits := 0.0
	if abs != 0 {
		exp = int(math.Floor(math.Log10(abs))) + 1
		digits = math.Round(abs / math.Pow(10, float64(exp)) * mantissaScale)
		// Rounding 0.999995 up, or log10 landing one decade low, leaves six
		// digits; shift one decade.
		if digits >= mantissaScale {
			digits = math.Round(digits / 10)
			exp++
		}
		if exp < minExponent {
			exp, digits = 0, 0
		}
	}
	if digits == 0 {
		exp = 0
	}

	var b strings.Builder
	b.Grow(expFieldWidth)
	b.WriteByte(sign)
	fmt.Fprintf(&b, "%05d", int(digits))
	switch {
	case exp > 0:
		fmt.Fprintf(&b, "+%d", exp)
	default:
		fmt.Fprintf(&b, "-%d", -exp)
	}
	if b.Len() != expFieldWidth {
		return "", fmt.Errorf("%w: %v does not fit %d columns", ErrEncodingOverflow, v, expFieldWidth)
	}
	return b.String(), nil
}

// DecodeExponent parses a field written by EncodeExponent. A leading '+' is
// accepted in place of the space some producers emit.
func DecodeExponent(field string) (float64, error) {
	f := strings.TrimSpace(field)
	if f == "" {
		return 0, fmt.Errorf("%w: empty exponent field", ErrMalformedRecord)
	}
	sign := 1.0
	switch f[0] {
	case '-':
		sign = -1
		f = f[1:]
	case '+':
		f = f[1:]
	}
	if len(f) < 3 {
		return 0, fmt.Errorf("%w: exponent field %q too short", ErrMalformedRecord, field)
	}
	mant, expPart := f[:len(f)-2], f[len(f)-2:]
	for _, r := range mant {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: exponent field %q has non-digit mantissa", ErrMalformedRecord, field)
		}
	}
	m, err := strconv.ParseFloat("0."+mant, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: exponent field %q: %v", ErrMalformedRecord, field, err)
	}
	e, err := strconv.Atoi(expPart)
	if err != nil {
		return 0, fmt.Errorf("%w: exponent field %q: %v", ErrMalformedRecord, field, err)
	}
	return sign * m * math.Pow(10, float64(e)), nil
}
