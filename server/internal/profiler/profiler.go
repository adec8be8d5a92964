package profiler

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsewatch/pulsewatch/pkg/types"
	"github.com/pulsewatch/pulsewatch/server/internal/metrics"
)

// ErrDuplicateExecution is returned by Start when the id is already tracked.
var ErrDuplicateExecution = errors.New("profiler: execution already started")

// Bottleneck tags.
const (
	BottleneckSlow = "slow_execution"
)

// Metric names emitted by the profiler.
const (
	MetricActive   = "active_executions"
	MetricDuration = "execution_duration_ms"
	MetricCall     = "function_duration_ms"
)

// State is a profile's lifecycle state.
type State string

const (
	StateActive State = "active"
	StateEnded  State = "ended"
)

// Call is one function-call span within an execution.
type Call struct {
	Name       string        `json:"name"`
	Duration   time.Duration `json:"-"`
	DurationMS float64       `json:"duration_ms"`
	Timestamp  time.Time     `json:"timestamp"`
	Success    bool          `json:"success"`
}

// Profile is the tracked lifetime of one execution.
type Profile struct {
	ExecutionID string         `json:"execution_id"`
	Metadata    types.Metadata `json:"metadata"`
	State       State          `json:"state"`
	Status      string         `json:"status,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     *time.Time     `json:"end_time,omitempty"`
	Duration    *time.Duration `json:"-"`
	DurationMS  *float64       `json:"duration_ms,omitempty"`
	Calls       []Call         `json:"function_calls"`
	Bottlenecks []string       `json:"bottlenecks"`
}

// MetricSink receives the metrics the profiler emits.
type MetricSink interface {
	Record(name string, value float64, tags map[string]string, kind types.MetricKind)
}

// AlertRaiser raises alerts for slow executions.
type AlertRaiser interface {
	Raise(level types.AlertLevel, title, message string, md types.Metadata) types.Alert
}

// Profiler owns the profile table. Safe for concurrent use.
type Profiler struct {
	sink      MetricSink
	alerts    AlertRaiser
	threshold time.Duration

	mu       sync.RWMutex
	profiles map[string]*Profile
	active   int

	log *slog.Logger
	now func() time.Time // injectable for deterministic tests
}

// New creates a Profiler. Executions lasting longer than threshold are tagged
// slow_execution. sink and alerts may be nil.
func New(threshold time.Duration, sink MetricSink, alerts AlertRaiser) *Profiler {
	return &Profiler{
		sink:      sink,
		alerts:    alerts,
		threshold: threshold,
		profiles:  make(map[string]*Profile),
		log:       slog.Default(),
		now:       time.Now,
	}
}

// Start begins tracking an execution and returns its id. An empty id is
// replaced by a generated one. Starting an id that is already tracked
// returns ErrDuplicateExecution and leaves the existing profile untouched.
func (p *Profiler) Start(id string, md types.Metadata) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	clean, _ := types.Sanitize(md)

	p.mu.Lock()
	if _, exists := p.profiles[id]; exists {
		p.mu.Unlock()
		p.log.Warn("profiler: duplicate start rejected", "execution_id", id)
		return id, fmt.Errorf("%w: %s", ErrDuplicateExecution, id)
	}
	p.profiles[id] = &Profile{
		ExecutionID: id,
		Metadata:    clean,
		State:       StateActive,
		StartTime:   p.now(),
		Calls:       []Call{},
		Bottlenecks: []string{},
	}
	p.active++
	active := p.active
	p.mu.Unlock()

	metrics.ActiveExecutions.Set(float64(active))
	p.emit(MetricActive, float64(active), map[string]string{"type": "execution_start"}, types.KindGauge)
	p.log.Info("profiler: execution started", "execution_id", id)
	return id, nil
}

// RecordCall appends a function-call span to an active execution.
// Unknown or ended executions are ignored.
func (p *Profiler) RecordCall(id, name string, d time.Duration, success bool) {
	p.mu.Lock()
	prof, ok := p.profiles[id]
	if !ok || prof.State != StateActive {
		p.mu.Unlock()
		p.log.Debug("profiler: call for inactive execution ignored", "execution_id", id, "function", name)
		return
	}
	prof.Calls = append(prof.Calls, Call{
		Name:       name,
		Duration:   d,
		DurationMS: millis(d),
		Timestamp:  p.now(),
		Success:    success,
	})
	p.mu.Unlock()

	p.emit(MetricCall, millis(d), map[string]string{
		"function":     name,
		"execution_id": id,
		"success":      fmt.Sprintf("%t", success),
	}, types.KindTimer)
}

// End finalises an active execution. Unknown ids and already-ended
// executions are no-ops, so the duration is set exactly once.
func (p *Profiler) End(id, status, errMsg string) {
	if status == "" {
		status = "completed"
	}

	p.mu.Lock()
	prof, ok := p.profiles[id]
	if !ok {
		p.mu.Unlock()
		p.log.Warn("profiler: end for unknown execution", "execution_id", id)
		return
	}
	if prof.State != StateActive {
		p.mu.Unlock()
		p.log.Debug("profiler: execution already ended", "execution_id", id)
		return
	}

	end := p.now()
	d := end.Sub(prof.StartTime)
	prof.EndTime = &end
	ms := millis(d)
	prof.Duration = &d
	prof.DurationMS = &ms
	prof.State = StateEnded
	prof.Status = status
	prof.Error = errMsg
	slow := p.threshold > 0 && d > p.threshold
	if slow {
		prof.Bottlenecks = addTag(prof.Bottlenecks, BottleneckSlow)
	}
	p.active--
	active := p.active
	p.mu.Unlock()

	metrics.ActiveExecutions.Set(float64(active))
	p.emit(MetricDuration, millis(d), map[string]string{"execution_id": id, "status": status}, types.KindTimer)
	p.emit(MetricActive, float64(active), map[string]string{"type": "execution_end"}, types.KindGauge)

	if slow && p.alerts != nil {
		p.alerts.Raise(types.LevelWarning,
			"Slow Execution Detected",
			fmt.Sprintf("Execution %s took %.0fms", id, millis(d)),
			types.Metadata{
				"execution_id": types.String(id),
				"duration_ms":  types.Number(millis(d)),
			})
	}

	p.log.Info("profiler: execution ended",
		"execution_id", id,
		"status", status,
		"duration_ms", millis(d),
	)
}

// Get returns a copy of the profile for id.
func (p *Profiler) Get(id string) (Profile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	prof, ok := p.profiles[id]
	if !ok {
		return Profile{}, false
	}
	return prof.clone(), true
}

// ActiveCount returns the number of started but not ended executions.
func (p *Profiler) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// Len returns the number of stored profiles.
func (p *Profiler) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.profiles)
}

// Evict removes profiles started before cutoff, whatever their state, and
// returns how many were removed.
func (p *Profiler) Evict(cutoff time.Time) int {
	p.mu.Lock()
	removed := 0
	for id, prof := range p.profiles {
		if prof.StartTime.Before(cutoff) {
			if prof.State == StateActive {
				p.active--
			}
			delete(p.profiles, id)
			removed++
		}
	}
	active := p.active
	p.mu.Unlock()

	if removed > 0 {
		metrics.ActiveExecutions.Set(float64(active))
	}
	return removed
}

func (p *Profiler) emit(name string, v float64, tags map[string]string, kind types.MetricKind) {
	if p.sink != nil {
		p.sink.Record(name, v, tags, kind)
	}
}

func (prof *Profile) clone() Profile {
	cp := *prof
	cp.Metadata = prof.Metadata.Clone()
	cp.Calls = make([]Call, len(prof.Calls))
	copy(cp.Calls, prof.Calls)
	cp.Bottlenecks = make([]string, len(prof.Bottlenecks))
	copy(cp.Bottlenecks, prof.Bottlenecks)
	if prof.EndTime != nil {
		t := *prof.EndTime
		cp.EndTime = &t
	}
	if prof.Duration != nil {
		d := *prof.Duration
		cp.Duration = &d
	}
	if prof.DurationMS != nil {
		ms := *prof.DurationMS
		cp.DurationMS = &ms
	}
	return cp
}

// addTag inserts tag into the sorted set tags.
func addTag(tags []string, tag string) []string {
	i := sort.SearchStrings(tags, tag)
	if i < len(tags) && tags[i] == tag {
		return tags
	}
	tags = append(tags, "")
	copy(tags[i+1:], tags[i:])
	tags[i] = tag
	return tags
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
