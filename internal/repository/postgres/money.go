package postgres

import (
	"fmt"
	"strconv"
	"strings"
)

// parseCents converts a NUMERIC(12,2) text value into cents without going
// through float64.
func parseCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty numeric string")
	}

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("numeric %q has more than two decimals", s)
	}
	frac += strings.Repeat("0", 2-len(frac))

	w, err := strconv.ParseUint(whole, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	f, err := strconv.ParseUint(frac, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}

	cents := int64(w)*100 + int64(f)
	if neg {
		cents = -cents
	}
	return cents, nil
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
