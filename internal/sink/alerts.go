package sink

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/airsense/internal/telemetry"
)

// Alert event kinds.
const (
	AlertRaised  = "raised"
	AlertChanged = "changed"
	AlertCleared = "cleared"
)

// Thresholds define the comfortable range for each quantity. A reading
// outside any of them is anomalous. Bounds are inclusive.
type Thresholds struct {
	Temperature telemetry.Range `json:"temperature"`
	Humidity    telemetry.Range `json:"humidity"`
	CO2Max      float64         `json:"co2_max"`
}

// DefaultThresholds returns the dashboard defaults: 15..30 °C,
// 30..70 % humidity and at most 1000 ppm CO2.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Temperature: telemetry.Range{Min: 15, Max: 30},
		Humidity:    telemetry.Range{Min: 30, Max: 70},
		CO2Max:      1000,
	}
}

// Check returns one message per violated threshold, in the order
// temperature, co2, humidity. An empty result means the reading is normal.
func (t Thresholds) Check(r telemetry.Reading) []string {
	var reasons []string
	if !t.Temperature.Contains(r.Temperature) {
		reasons = append(reasons, fmt.Sprintf("temperature %.2f outside %.2f..%.2f",
			r.Temperature, t.Temperature.Min, t.Temperature.Max))
	}
	if r.CO2 > t.CO2Max {
		reasons = append(reasons, fmt.Sprintf("co2 %.2f above %.2f", r.CO2, t.CO2Max))
	}
	if !t.Humidity.Contains(r.Humidity) {
		reasons = append(reasons, fmt.Sprintf("humidity %.2f outside %.2f..%.2f",
			r.Humidity, t.Humidity.Min, t.Humidity.Max))
	}
	return reasons
}

// AlertStatus is the current anomaly state.
type AlertStatus struct {
	Active  bool              `json:"active"`
	Reasons []string          `json:"reasons,omitempty"`
	Since   time.Time         `json:"since,omitempty"`
	Reading telemetry.Reading `json:"reading"`
}

// AlertEvent records a transition of the anomaly state.
type AlertEvent struct {
	Kind    string            `json:"kind"`
	Reasons []string          `json:"reasons,omitempty"`
	Reading telemetry.Reading `json:"reading"`
}

// AlertListener is notified of every transition. It runs on the consuming
// goroutine and must not block.
type AlertListener func(AlertEvent)

// Alerts tracks anomalies across the reading stream. An event is emitted
// when a reading becomes anomalous, when the set of violated thresholds
// changes, and when readings return to normal.
type Alerts struct {
	thresholds Thresholds

	mu       sync.RWMutex
	status   AlertStatus
	events   []AlertEvent
	history  int
	listener AlertListener
}

// NewAlerts returns a detector keeping the last history events (at least 1).
func NewAlerts(t Thresholds, history int) *Alerts {
	if history < 1 {
		history = 1
	}
	return &Alerts{thresholds: t, history: history}
}

// OnTransition sets the transition listener.
func (a *Alerts) OnTransition(l AlertListener) {
	a.mu.Lock()
	a.listener = l
	a.mu.Unlock()
}

// Thresholds returns the configured thresholds.
func (a *Alerts) Thresholds() Thresholds {
	return a.thresholds
}

// Consume implements Sink.
func (a *Alerts) Consume(r telemetry.Reading) {
	reasons := a.thresholds.Check(r)

	a.mu.Lock()
	prev := a.status
	kind := transition(prev, reasons)

	a.status.Reading = r
	a.status.Active = len(reasons) > 0
	a.status.Reasons = reasons
	switch kind {
	case AlertRaised:
		a.status.Since = r.Timestamp
	case AlertCleared:
		a.status.Since = time.Time{}
	}

	var (
		ev       AlertEvent
		listener AlertListener
	)
	if kind != "" {
		ev = AlertEvent{Kind: kind, Reasons: reasons, Reading: r}
		a.events = append(a.events, ev)
		if len(a.events) > a.history {
			a.events = a.events[len(a.events)-a.history:]
		}
		listener = a.listener
	}
	a.mu.Unlock()

	if listener != nil {
		listener(ev)
	}
}

func transition(prev AlertStatus, reasons []string) string {
	switch {
	case !prev.Active && len(reasons) > 0:
		return AlertRaised
	case prev.Active && len(reasons) == 0:
		return AlertCleared
	case prev.Active && !sameKinds(prev.Reasons, reasons):
		return AlertChanged
	}
	return ""
}

// sameKinds compares which quantities are violated, ignoring the values.
func sameKinds(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if kindOf(a[i]) != kindOf(b[i]) {
			return false
		}
	}
	return true
}

func kindOf(reason string) string {
	kind, _, _ := strings.Cut(reason, " ")
	return kind
}

// Status returns the current anomaly state.
func (a *Alerts) Status() AlertStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := a.status
	s.Reasons = append([]string(nil), a.status.Reasons...)
	return s
}

// Events returns the retained transitions, oldest first.
func (a *Alerts) Events() []AlertEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]AlertEvent(nil), a.events...)
}
