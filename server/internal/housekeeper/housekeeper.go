package housekeeper

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pulsewatch/pulsewatch/server/internal/metrics"
)

// Evictor removes entries older than cutoff and reports how many it removed.
type Evictor interface {
	Evict(cutoff time.Time) int
}

// Task is one retention rule: entries of Target older than Retention are
// purged on every sweep.
type Task struct {
	Name      string
	Retention time.Duration
	Target    Evictor
}

// Housekeeper runs its tasks on a fixed interval.
type Housekeeper struct {
	tasks    []Task
	interval time.Duration
	sweeping atomic.Bool

	log *slog.Logger
	now func() time.Time // injectable for deterministic tests
}

// New creates a Housekeeper that sweeps every interval (minimum 1 second).
func New(interval time.Duration, tasks ...Task) *Housekeeper {
	if interval < time.Second {
		interval = time.Second
	}
	return &Housekeeper{
		tasks:    tasks,
		interval: interval,
		log:      slog.Default(),
		now:      time.Now,
	}
}

// Sweep runs every task once against now and returns the removed count per
// task name. If another sweep is in progress it does nothing and returns nil.
func (h *Housekeeper) Sweep(now time.Time) map[string]int {
	if !h.sweeping.CompareAndSwap(false, true) {
		h.log.Debug("housekeeper: sweep already running, skipped")
		return nil
	}
	defer h.sweeping.Store(false)

	removed := make(map[string]int, len(h.tasks))
	for _, t := range h.tasks {
		n := h.runTask(t, now)
		removed[t.Name] = n
		if n > 0 {
			metrics.Evicted.WithLabelValues(t.Name).Add(float64(n))
			h.log.Info("housekeeper: purged expired entries", "task", t.Name, "count", n)
		}
	}
	return removed
}

func (h *Housekeeper) runTask(t Task, now time.Time) (n int) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("housekeeper: task panicked", "task", t.Name, "panic", r)
			n = 0
		}
	}()
	return t.Target.Evict(now.Add(-t.Retention))
}

// Run sweeps until ctx is cancelled. The next sweep is scheduled only after
// the previous one returns, so sweeps never overlap.
func (h *Housekeeper) Run(ctx context.Context) {
	timer := time.NewTimer(h.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			h.Sweep(h.now())
			timer.Reset(h.interval)
		}
	}
}
