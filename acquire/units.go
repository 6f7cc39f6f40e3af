package acquire

import (
	"fmt"
	"math"
)

var byteUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// HumanBytes renders a byte count in an automatically selected unit.
func HumanBytes(n int64) string {
	size := float64(n)
	i := 0
	for size >= 1024 && i < len(byteUnits)-1 {
		size /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", size, byteUnits[i])
}

var siPrefixes = map[int]string{
	24: "Y", 21: "Z", 18: "E", 15: "P", 12: "T", 9: "G", 6: "M", 3: "k",
	0: "", -3: "m", -6: "u", -9: "n", -12: "p", -15: "f", -18: "a", -21: "z", -24: "y",
}

// SIValue renders a value with the optimal SI prefix, e.g. 2.5e-9 -> "2.500 n".
func SIValue(v float64) string {
	if v == 0 {
		return "0"
	}

	exp := int(math.Floor(math.Log10(math.Abs(v))/3)) * 3
	if exp > 24 {
		exp = 24
	}
	if exp < -24 {
		exp = -24
	}

	prefix, ok := siPrefixes[exp]
	if !ok {
		prefix = ""
	}
	return fmt.Sprintf("%.3f %s", v/math.Pow10(exp), prefix)
}
