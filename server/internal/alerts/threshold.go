package alerts

import (
	"github.com/pulsewatch/pulsewatch/pkg/types"
	"github.com/pulsewatch/pulsewatch/server/internal/config"
)

// classify maps value onto a threshold pair.
// Returns ("", false) when the value is below the warning level.
func classify(value float64, th config.Threshold) (types.AlertLevel, bool) {
	switch {
	case value >= th.Critical:
		return types.LevelCritical, true
	case value >= th.Warning:
		return types.LevelWarning, true
	default:
		return "", false
	}
}

// levelRank orders levels for min-level filtering.
func levelRank(l types.AlertLevel) int {
	switch l {
	case types.LevelCritical:
		return 3
	case types.LevelError:
		return 2
	case types.LevelWarning:
		return 1
	default:
		return 0
	}
}

// meanOfNewest returns the mean of the last n values of metric in samples,
// which must be ordered oldest first. ok is false with fewer than n samples.
func meanOfNewest(samples []types.Metric, metric string, n int) (mean float64, ok bool) {
	var sum float64
	found := 0
	for i := len(samples) - 1; i >= 0 && found < n; i-- {
		if samples[i].Name != metric {
			continue
		}
		sum += samples[i].Value
		found++
	}
	if found < n || n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
