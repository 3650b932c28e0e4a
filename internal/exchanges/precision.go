package exchanges

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"crypto-terminal/internal/common"
)

// Precision is a decimal-digit count derived from an exchange precision
// descriptor. Defaulted is set when the descriptor was missing, zero or
// unparsable and Digits fell back to common.DefaultPrecision.
type Precision struct {
	Digits    int
	Defaulted bool
}

var defaultPrecision = Precision{Digits: common.DefaultPrecision, Defaulted: true}

// DerivePrecision accepts a digit count (integer), a step size (float or
// numeric string) or nil.
func DerivePrecision(raw interface{}) Precision {
	switch v := raw.(type) {
	case nil:
		return defaultPrecision
	case int:
		return fromInt(int64(v))
	case int32:
		return fromInt(int64(v))
	case int64:
		return fromInt(v)
	case float64:
		return fromStep(v)
	case float32:
		return fromStep(float64(v))
	case json.Number:
		return fromString(string(v))
	case string:
		return fromString(v)
	}
	return defaultPrecision
}

func fromInt(v int64) Precision {
	switch {
	case v == 0:
		return defaultPrecision
	case v > 0:
		return Precision{Digits: int(v)}
	}
	return fromStep(float64(v))
}

func fromString(s string) Precision {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return defaultPrecision
	}
	return fromStep(f)
}

// fromStep counts the fractional digits of a step size printed with 16
// decimals, ignoring trailing zeros. Steps >= 1 without a fraction give 0.
func fromStep(v float64) Precision {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return defaultPrecision
	}
	s := strconv.FormatFloat(v, 'f', 16, 64)
	_, frac, found := strings.Cut(s, ".")
	if !found {
		return Precision{Digits: 0}
	}
	return Precision{Digits: len(strings.TrimRight(frac, "0"))}
}
