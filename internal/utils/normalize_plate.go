package utils

import "strings"

// NormalizePlate uppercases raw and keeps only A-Z and 0-9.
// Normalizing an already normalized plate is a no-op.
func NormalizePlate(raw string) string {
	upper := strings.ToUpper(raw)

	var b strings.Builder
	b.Grow(len(upper))
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
