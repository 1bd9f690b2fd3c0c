package domain

import "fmt"

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatBytes renders a byte count with two decimals in binary units.
func FormatBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", max(n, 0))
	}
	value := float64(n)
	unit := 0
	for value >= 1024 && unit < len(sizeUnits)-1 {
		value /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", value, sizeUnits[unit])
}
