// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smabt

import (
	"math"
	"strconv"
	"strings"
)

// Value is a fixed-point decimal: Raw × 10^-Scale.
type Value struct {
	Raw   int64
	Scale uint8
}

// NewValue returns raw scaled by 10^-scale
func NewValue(raw int64, scale uint8) Value {
	return Value{Raw: raw, Scale: scale}
}

// String formats the value exactly, with Scale digits after the decimal point
func (v Value) String() string {
	digits := strconv.FormatUint(absInt64(v.Raw), 10)
	scale := int(v.Scale)

	if scale > 0 {
		if len(digits) <= scale {
			digits = strings.Repeat("0", scale-len(digits)+1) + digits
		}
		digits = digits[:len(digits)-scale] + "." + digits[len(digits)-scale:]
	}
	if v.Raw < 0 {
		return "-" + digits
	}
	return digits
}

// Float64 converts the value, possibly losing precision
func (v Value) Float64() float64 {
	return float64(v.Raw) / math.Pow10(int(v.Scale))
}

// MarshalJSON writes the exact decimal as a JSON number
func (v Value) MarshalJSON() ([]byte, error) {
	return []byte(v.String()), nil
}

func absInt64(n int64) uint64 {
	if n < 0 {
		return uint64(-(n + 1)) + 1
	}
	return uint64(n)
}

// ceilDiv divides rounding toward positive infinity
func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) == (b < 0) {
		q++
	}
	return q
}
