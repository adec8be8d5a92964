package profiler

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Recommendation thresholds.
const (
	longExecution = 3 * time.Second
	slowCall      = time.Second
	manyCalls     = 100
)

// Recommendation is one optimisation hint derived from a profile.
type Recommendation struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "info" | "warning".
	Level  string `json:"level"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	// Value is an optional number attached to the hint (ms, call count).
	Value *float64 `json:"value,omitempty"`
}

// Report is a profile plus the recommendations computed from it.
type Report struct {
	Profile         Profile          `json:"profile"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Report returns the performance report for id, or false when it is unknown.
func (p *Profiler) Report(id string) (Report, bool) {
	prof, ok := p.Get(id)
	if !ok {
		return Report{}, false
	}
	return Report{Profile: prof, Recommendations: recommend(prof)}, true
}

// recommend derives hints from a profile. Warnings come before info hints.
func recommend(prof Profile) []Recommendation {
	recs := []Recommendation{}

	if prof.Duration != nil && *prof.Duration > longExecution {
		v := millis(*prof.Duration)
		recs = append(recs, Recommendation{
			Key:   "long_execution",
			Level: "warning",
			Title: "Long execution",
			Detail: fmt.Sprintf(
				"The execution took %.0fms, more than %s. "+
					"Consider optimising the execution flow.",
				v, longExecution,
			),
			Value: &v,
		})
	}

	var slow []string
	for _, c := range prof.Calls {
		if c.Duration > slowCall {
			slow = append(slow, c.Name)
		}
	}
	if len(slow) > 0 {
		v := float64(len(slow))
		recs = append(recs, Recommendation{
			Key:    "slow_functions",
			Level:  "warning",
			Title:  "Slow functions",
			Detail: "Optimise slow functions: " + strings.Join(slow, ", "),
			Value:  &v,
		})
	}

	if n := len(prof.Calls); n > manyCalls {
		v := float64(n)
		recs = append(recs, Recommendation{
			Key:   "many_calls",
			Level: "info",
			Title: "Many function calls",
			Detail: fmt.Sprintf(
				"The execution made %d function calls. Consider batching or caching.", n,
			),
			Value: &v,
		})
	}

	failed := 0
	for _, c := range prof.Calls {
		if !c.Success {
			failed++
		}
	}
	if failed > 0 {
		v := float64(failed)
		recs = append(recs, Recommendation{
			Key:    "failed_calls",
			Level:  "warning",
			Title:  "Failed calls",
			Detail: fmt.Sprintf("%d of %d function calls failed.", failed, len(prof.Calls)),
			Value:  &v,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return levelOrder(recs[i].Level) < levelOrder(recs[j].Level)
	})
	return recs
}

func levelOrder(l string) int {
	if l == "warning" {
		return 0
	}
	return 1
}
