package audio

import (
	"math"
	"strconv"
	"strings"
)

// ParseTimemark converts "HH:MM:SS(.ff)" into seconds.
func ParseTimemark(marker string) (float64, bool) {
	marker = strings.TrimSpace(marker)
	if strings.HasPrefix(marker, "-") {
		return 0, false
	}
	parts := strings.Split(marker, ":")
	if len(parts) != 3 {
		return 0, false
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 || seconds >= 60 || math.IsNaN(seconds) {
		return 0, false
	}

	return float64(hours)*3600 + float64(minutes)*60 + seconds, true
}

// PercentFromMarker converts an elapsed timemark into a percentage of totalSeconds.
// Any unusable input yields 0; the result is always within [0, 100].
func PercentFromMarker(marker string, totalSeconds float64) float64 {
	if totalSeconds <= 0 || math.IsNaN(totalSeconds) || math.IsInf(totalSeconds, 0) {
		return 0
	}
	elapsed, ok := ParseTimemark(marker)
	if !ok {
		return 0
	}

	percent := elapsed / totalSeconds * 100
	switch {
	case math.IsNaN(percent) || percent < 0:
		return 0
	case percent > 100:
		return 100
	}
	return percent
}
