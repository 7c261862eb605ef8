package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PriceScale is the fixed number of decimal places carried by scaled integers.
const PriceScale = 8

const scaleFactor = 1e8

// Price is a scaled integer with PriceScale decimal places.
type Price int64

// Quantity is a scaled integer with PriceScale decimal places.
type Quantity int64

func (p Price) String() string {
	return string(appendScaledInt(nil, int64(p), PriceScale))
}

func (q Quantity) String() string {
	return string(appendScaledInt(nil, int64(q), PriceScale))
}

func (p Price) Float() float64 {
	return float64(p) / scaleFactor
}

func (q Quantity) Float() float64 {
	return float64(q) / scaleFactor
}

// PriceFromFloat rounds a float value into the scaled representation.
func PriceFromFloat(v float64) Price {
	return Price(math.Round(v * scaleFactor))
}

// QuantityFromFloat rounds a float value into the scaled representation.
func QuantityFromFloat(v float64) Quantity {
	return Quantity(math.Round(v * scaleFactor))
}

// ParsePrice parses a decimal string into a scaled Price.
func ParsePrice(s string) (Price, error) {
	v, err := parseScaled(s, PriceScale)
	if err != nil {
		return 0, err
	}
	return Price(v), nil
}

// ParseQuantity parses a decimal string into a scaled Quantity.
func ParseQuantity(s string) (Quantity, error) {
	v, err := parseScaled(s, PriceScale)
	if err != nil {
		return 0, err
	}
	return Quantity(v), nil
}

func parseScaled(s string, scale int) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty decimal string")
	}
	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		s = s[1:]
	}
	intPart, fracPart := s, ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		intPart, fracPart = s[:idx], s[idx+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > scale {
		fracPart = fracPart[:scale]
	}
	for len(fracPart) < scale {
		fracPart += "0"
	}
	i, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	f, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	v := i*int64(scaleFactor) + f
	if neg {
		v = -v
	}
	return v, nil
}

func appendScaledInt(buf []byte, value int64, scale int) []byte {
	if scale <= 0 {
		return strconv.AppendInt(buf, value, 10)
	}

	neg := value < 0
	u := uint64(value)
	if neg {
		u = uint64(^value) + 1
	}

	var tmp [32]byte
	digits := strconv.AppendUint(tmp[:0], u, 10)

	if neg {
		buf = append(buf, '-')
	}

	if len(digits) <= scale {
		buf = append(buf, '0', '.')
		for i := 0; i < scale-len(digits); i++ {
			buf = append(buf, '0')
		}
		buf = append(buf, digits...)
		return buf
	}

	idx := len(digits) - scale
	buf = append(buf, digits[:idx]...)
	buf = append(buf, '.')
	buf = append(buf, digits[idx:]...)
	return buf
}
