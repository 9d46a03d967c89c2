// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

// FormatDecimal writes the decimal text of value into dst and returns its
// length. It returns 0 and leaves dst untouched when the text does not fit.
func FormatDecimal(dst []byte, value int) int {
	var digits [20]byte
	i := len(digits)

	negative := value < 0
	u := uint64(value)
	if negative {
		u = uint64(-(value + 1)) + 1
	}
	for {
		i--
		digits[i] = byte('0' + u%10)
		u /= 10
		if u == 0 {
			break
		}
	}
	if negative {
		i--
		digits[i] = '-'
	}

	n := len(digits) - i
	if n > len(dst) {
		return 0
	}
	return copy(dst, digits[i:])
}
