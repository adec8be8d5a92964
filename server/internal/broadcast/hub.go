package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pulsewatch/pulsewatch/pkg/types"
	"github.com/pulsewatch/pulsewatch/server/internal/metrics"
)

// Sink receives broadcast payloads. Send must not block for long; a non-nil
// error removes the sink from the hub.
type Sink interface {
	Send(payload []byte) error
}

// Update is the periodic live summary pushed on every fast heartbeat.
type Update struct {
	Timestamp        time.Time                    `json:"timestamp"`
	ActiveExecutions int                          `json:"active_executions"`
	RecentAlerts     int                          `json:"recent_alerts"`
	MetricsSummary   map[string]types.MetricStats `json:"metrics_summary"`
}

type updateMessage struct {
	Type string `json:"type"`
	Update
}

type alertMessage struct {
	Type string `json:"type"`
	types.Alert
}

// Hub holds the registered sinks. Safe for concurrent use.
type Hub struct {
	mu    sync.RWMutex
	sinks map[Sink]struct{}
	log   *slog.Logger
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{
		sinks: make(map[Sink]struct{}),
		log:   slog.Default(),
	}
}

// Register adds s. Registering the same sink twice is a no-op.
func (h *Hub) Register(s Sink) {
	h.mu.Lock()
	h.sinks[s] = struct{}{}
	n := len(h.sinks)
	h.mu.Unlock()

	metrics.Subscribers.Set(float64(n))
	h.log.Info("broadcast: sink registered", "subscribers", n)
}

// Unregister removes s if present.
func (h *Hub) Unregister(s Sink) {
	h.mu.Lock()
	_, ok := h.sinks[s]
	delete(h.sinks, s)
	n := len(h.sinks)
	h.mu.Unlock()

	if ok {
		metrics.Subscribers.Set(float64(n))
		h.log.Info("broadcast: sink unregistered", "subscribers", n)
	}
}

// Count returns the number of registered sinks.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}

// Broadcast sends payload to every sink and returns how many accepted it.
// Sinks that fail are pruned.
func (h *Hub) Broadcast(payload []byte) int {
	h.mu.RLock()
	targets := make([]Sink, 0, len(h.sinks))
	for s := range h.sinks {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var failed []Sink
	delivered := 0
	for _, s := range targets {
		if err := s.Send(payload); err != nil {
			h.log.Debug("broadcast: send failed, pruning sink", "err", err)
			failed = append(failed, s)
			continue
		}
		delivered++
	}

	if len(failed) > 0 {
		h.mu.Lock()
		for _, s := range failed {
			delete(h.sinks, s)
		}
		n := len(h.sinks)
		h.mu.Unlock()
		metrics.SubscribersPruned.Add(float64(len(failed)))
		metrics.Subscribers.Set(float64(n))
	}
	return delivered
}

// PublishUpdate broadcasts u as {"type":"update", ...}.
func (h *Hub) PublishUpdate(u Update) int {
	if h.Count() == 0 {
		return 0
	}
	return h.publish(updateMessage{Type: "update", Update: u})
}

// PublishAlert broadcasts a as {"type":"alert", ...}.
func (h *Hub) PublishAlert(a types.Alert) {
	if h.Count() == 0 {
		return
	}
	h.publish(alertMessage{Type: "alert", Alert: a})
}

// UpdatePayload encodes u the way PublishUpdate does. Transports use it to
// send an initial update to a new subscriber.
func UpdatePayload(u Update) ([]byte, error) {
	return json.Marshal(updateMessage{Type: "update", Update: u})
}

func (h *Hub) publish(msg any) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("broadcast: encode payload", "err", err)
		return 0
	}
	return h.Broadcast(data)
}
