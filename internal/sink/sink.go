package sink

import (
	"fmt"

	"github.com/nerrad567/airsense/internal/infrastructure/logging"
	"github.com/nerrad567/airsense/internal/telemetry"
)

// Sink receives validated readings.
type Sink interface {
	Consume(r telemetry.Reading)
}

// Func adapts a plain function to Sink.
type Func func(r telemetry.Reading)

// Consume calls f(r).
func (f Func) Consume(r telemetry.Reading) { f(r) }

// Fanout delivers each reading to several sinks in order. A panic in one
// sink is logged and does not stop delivery to the rest.
type Fanout struct {
	sinks  []Sink
	logger *logging.Logger
}

// NewFanout combines sinks. Nil entries are skipped.
func NewFanout(logger *logging.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = logging.Discard()
	}
	f := &Fanout{logger: logger}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Consume implements Sink.
func (f *Fanout) Consume(r telemetry.Reading) {
	for _, s := range f.sinks {
		f.deliver(s, r)
	}
}

// Len returns the number of combined sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

func (f *Fanout) deliver(s Sink, r telemetry.Reading) {
	defer func() {
		if p := recover(); p != nil {
			f.logger.Error("sink panicked",
				"sink", fmt.Sprintf("%T", s),
				"panic", fmt.Sprint(p),
			)
		}
	}()
	s.Consume(r)
}
