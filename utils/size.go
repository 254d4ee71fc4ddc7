package utils

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

const bytesPerMB = 1024 * 1024

// index sites print binary units with SI names
var siToBinary = strings.NewReplacer(
	"KB", "KiB", "kb", "KiB", "Kb", "KiB",
	"MB", "MiB", "mb", "MiB", "Mb", "MiB",
	"GB", "GiB", "gb", "GiB", "Gb", "GiB",
	"TB", "TiB", "tb", "TiB", "Tb", "TiB",
)

// ParseSizeMB converts a human size such as "1.4 GB" or "700MiB" into megabytes
func ParseSizeMB(size string) (float64, error) {
	s := strings.TrimSpace(strings.ReplaceAll(size, "\u00a0", " "))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	if !strings.Contains(s, "iB") {
		s = siToBinary.Replace(s)
	}

	b, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", size, err)
	}
	return BytesToMB(int64(b)), nil
}

// BytesToMB converts a byte count to megabytes
func BytesToMB(b int64) float64 {
	return float64(b) / bytesPerMB
}
