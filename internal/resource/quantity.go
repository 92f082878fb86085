package resource

import "math"

// quantumsPerUnit is the fixed-point resolution of a Quantity.
const quantumsPerUnit = 1_000_000

// Quantity is a resource amount in millionths of a unit. Fractional requests
// such as 0.5 or 1.1 are summed exactly in this representation.
type Quantity int64

// QuantityOf converts a floating point amount to a Quantity, rounding to the
// nearest quantum.
func QuantityOf(v float64) Quantity {
	return Quantity(math.Round(v * quantumsPerUnit))
}

// Float converts the quantity back to units.
func (q Quantity) Float() float64 {
	return float64(q) / quantumsPerUnit
}
