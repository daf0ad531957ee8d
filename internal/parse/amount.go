package parse

import (
	"strconv"
	"strings"
)

// Amount renders a dosage amount the way it is printed on the dispenser
// labels: halves and quarters as fractions, whole numbers without decimals.
func Amount(v float64) string {
	switch {
	case v == 0.5:
		return "1/2"
	case v == 0.25:
		return "1/4"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// AmountWithUnit appends the unit name when there is one.
func AmountWithUnit(v float64, unit string) string {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return Amount(v)
	}
	return Amount(v) + " " + unit
}
