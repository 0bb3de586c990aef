package core

import (
	"strconv"
	"strings"
	"unicode"
)

// All monetary amounts in this system are int64 minor units (cents).
// These helpers exist for the edges that talk to humans: CLI flags,
// import files and log output. The engine itself never parses decimals.

// ParseDecimalToMinor converts a signed decimal string to minor units
// with half-up rounding on the third decimal place. Both "." and ","
// are accepted as the decimal separator.
func ParseDecimalToMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, Validation("amount", "empty")
	}
	s = strings.ReplaceAll(s, ",", ".")

	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, Validation("amount", "malformed decimal")
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart + fracPart {
		if !unicode.IsDigit(r) {
			return 0, Validation("amount", "non-numeric character")
		}
	}

	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, Validation("amount", "integer part out of range")
	}
	const maxSafe = (1<<63 - 1) / 100
	if iv > maxSafe {
		return 0, Validation("amount", "out of range")
	}

	var frac int64
	if len(fracPart) > 0 {
		frac = int64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			frac += int64(fracPart[1] - '0')
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				frac++
			}
		}
	}

	minor := iv*100 + frac
	if neg {
		minor = -minor
	}
	return minor, nil
}

// FormatMinor renders minor units as a plain decimal string ("-12.34").
func FormatMinor(minor int64) string {
	neg := minor < 0
	if neg {
		minor = -minor
	}
	s := strconv.FormatInt(minor/100, 10) + "." +
		strconv.FormatInt(minor%100/10, 10) + strconv.FormatInt(minor%10, 10)
	if neg {
		return "-" + s
	}
	return s
}
