package pricing

import "fmt"

// All monetary values in the calculator are integer minor currency units
// (cents). Floating point never enters the arithmetic; rounding is half-up
// and applied once per discount step so identical inputs always produce
// identical output.

// Cents is a monetary amount in minor currency units.
type Cents int64

// applyPercentOff returns c reduced by pct percent, rounding half-up.
func applyPercentOff(c Cents, pct int64) Cents {
	if pct <= 0 {
		return c
	}
	if pct >= 100 {
		return 0
	}
	scaled := int64(c) * (100 - pct)
	return Cents((scaled + 50) / 100)
}

// Format renders the amount as a major-unit decimal string, e.g. 4900 -> "49.00".
func (c Cents) Format() string {
	neg := c < 0
	v := int64(c)
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%d.%02d", v/100, v%100)
	if neg {
		return "-" + s
	}
	return s
}
