package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

var byteSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"KIB", 1 << 10},
	{"MIB", 1 << 20},
	{"GIB", 1 << 30},
	{"KB", 1000},
	{"MB", 1000 * 1000},
	{"GB", 1000 * 1000 * 1000},
	{"B", 1},
}

// ParseByteSize parses human-readable sizes like "1MB", "512KiB" or "4096".
// Underscores are ignored, so "1_000_000" works. A bare number means bytes.
func ParseByteSize(s string) (int64, error) {
	in := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	if in == "" {
		return 0, fmt.Errorf("empty size")
	}

	mult := int64(1)
	numPart := in
	for _, bs := range byteSuffixes {
		if strings.HasSuffix(in, bs.suffix) {
			mult = bs.mult
			numPart = strings.TrimSuffix(in, bs.suffix)
			break
		}
	}

	numPart = strings.TrimSpace(numPart)
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n > 0 && n > math.MaxInt64/mult {
		return 0, fmt.Errorf("size overflow %q", s)
	}
	return n * mult, nil
}
