package sink

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nerrad567/airsense/internal/telemetry"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func reading(i int, temp, hum, co2 float64) telemetry.Reading {
	return telemetry.Reading{
		Timestamp:   base.Add(time.Duration(i) * time.Second),
		Temperature: temp,
		Humidity:    hum,
		CO2:         co2,
	}
}

func normal(i int) telemetry.Reading {
	return reading(i, 22, 50, 600)
}

func TestFanout_DeliversInOrder(t *testing.T) {
	var got []string
	a := Func(func(telemetry.Reading) { got = append(got, "a") })
	b := Func(func(telemetry.Reading) { got = append(got, "b") })

	f := NewFanout(nil, a, nil, b)
	if f.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (nil skipped)", f.Len())
	}

	f.Consume(normal(0))
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("delivery order = %v, want [a b]", got)
	}
}

func TestFanout_PanicIsolated(t *testing.T) {
	var reached bool
	f := NewFanout(nil,
		Func(func(telemetry.Reading) { panic("boom") }),
		Func(func(telemetry.Reading) { reached = true }),
	)

	f.Consume(normal(0))
	if !reached {
		t.Error("sink after a panicking sink was not called")
	}
}

func TestRing(t *testing.T) {
	r := NewRing(3)

	if _, ok := r.Latest(); ok {
		t.Error("Latest() on empty ring reported ok")
	}
	if got := r.Recent(5); len(got) != 0 {
		t.Errorf("Recent() on empty ring = %v", got)
	}

	for i := range 5 {
		r.Consume(normal(i))
	}

	if r.Len() != 3 || r.Cap() != 3 {
		t.Errorf("Len/Cap = %d/%d, want 3/3", r.Len(), r.Cap())
	}

	latest, ok := r.Latest()
	if !ok || !latest.Timestamp.Equal(normal(4).Timestamp) {
		t.Errorf("Latest() = %v, %v; want reading 4", latest.Timestamp, ok)
	}

	all := r.Recent(0)
	if len(all) != 3 {
		t.Fatalf("Recent(0) returned %d, want 3", len(all))
	}
	for i, rd := range all {
		if !rd.Timestamp.Equal(normal(i + 2).Timestamp) {
			t.Errorf("Recent(0)[%d] = %v, want reading %d", i, rd.Timestamp, i+2)
		}
	}

	two := r.Recent(2)
	if len(two) != 2 || !two[0].Timestamp.Equal(normal(3).Timestamp) {
		t.Errorf("Recent(2) = %v, want readings 3 and 4", two)
	}
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := NewRing(0)
	r.Consume(normal(0))
	r.Consume(normal(1))
	if r.Cap() != 1 || r.Len() != 1 {
		t.Errorf("Len/Cap = %d/%d, want 1/1", r.Len(), r.Cap())
	}
}

func TestThresholds_Check(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name string
		r    telemetry.Reading
		want int
	}{
		{"normal", reading(0, 22, 50, 600), 0},
		{"edges inclusive", reading(0, 15, 70, 1000), 0},
		{"hot", reading(0, 30.01, 50, 600), 1},
		{"cold", reading(0, 14.99, 50, 600), 1},
		{"stuffy", reading(0, 22, 50, 1000.01), 1},
		{"dry", reading(0, 22, 29.99, 600), 1},
		{"everything", reading(0, 35, 80, 1200), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := th.Check(tt.r); len(got) != tt.want {
				t.Errorf("Check() = %v, want %d reasons", got, tt.want)
			}
		})
	}
}

func TestAlerts_Transitions(t *testing.T) {
	a := NewAlerts(DefaultThresholds(), 10)

	var kinds []string
	a.OnTransition(func(ev AlertEvent) { kinds = append(kinds, ev.Kind) })

	a.Consume(normal(0))
	a.Consume(reading(1, 31, 50, 600))  // raised
	a.Consume(reading(2, 32, 50, 600))  // still only temperature
	a.Consume(reading(3, 32, 50, 1100)) // changed
	a.Consume(normal(4))                // cleared
	a.Consume(normal(5))

	want := []string{AlertRaised, AlertChanged, AlertCleared}
	if len(kinds) != len(want) {
		t.Fatalf("transitions = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, kinds[i], want[i])
		}
	}

	if st := a.Status(); st.Active || len(st.Reasons) != 0 {
		t.Errorf("Status() = %+v, want inactive", st)
	}
	if len(a.Events()) != 3 {
		t.Errorf("Events() = %d, want 3", len(a.Events()))
	}
}

func TestAlerts_StatusSince(t *testing.T) {
	a := NewAlerts(DefaultThresholds(), 10)

	a.Consume(reading(1, 22, 20, 600))
	a.Consume(reading(2, 22, 21, 600))

	st := a.Status()
	if !st.Active {
		t.Fatal("Status().Active = false, want true")
	}
	if !st.Since.Equal(reading(1, 0, 0, 0).Timestamp) {
		t.Errorf("Since = %v, want time of first anomalous reading", st.Since)
	}
	if st.Reading.Humidity != 21 {
		t.Errorf("Status().Reading = %+v, want latest", st.Reading)
	}
}

func TestAlerts_HistoryBounded(t *testing.T) {
	a := NewAlerts(DefaultThresholds(), 2)
	for i := range 6 {
		if i%2 == 0 {
			a.Consume(reading(i, 40, 50, 600))
		} else {
			a.Consume(normal(i))
		}
	}

	ev := a.Events()
	if len(ev) != 2 {
		t.Fatalf("Events() = %d, want 2", len(ev))
	}
	if ev[0].Kind != AlertRaised || ev[1].Kind != AlertCleared {
		t.Errorf("kept events = %s, %s; want newest raised, cleared", ev[0].Kind, ev[1].Kind)
	}
}

type recordingWriter struct {
	mu       sync.Mutex
	device   []string
	readings []telemetry.Reading
}

func (w *recordingWriter) WriteReading(deviceID string, r telemetry.Reading) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.device = append(w.device, deviceID)
	w.readings = append(w.readings, r)
}

func TestInflux(t *testing.T) {
	w := &recordingWriter{}
	s := NewInflux(w, "sensor-01")

	s.Consume(normal(0))
	if len(w.readings) != 1 || w.device[0] != "sensor-01" {
		t.Errorf("writer got %v / %v", w.device, w.readings)
	}
}

type slowStore struct {
	mu      sync.Mutex
	release chan struct{}
	got     []telemetry.Reading
	err     error
}

func (s *slowStore) Insert(ctx context.Context, _ string, r telemetry.Reading) error {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, r)
	return nil
}

func TestArchive_WritesAndDrains(t *testing.T) {
	store := &slowStore{}
	a := NewArchive(store, "sensor-01", 8, nil)

	for i := range 5 {
		a.Consume(normal(i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if st := a.Stats(); st.Written != 5 || st.Dropped != 0 {
		t.Errorf("Stats() = %+v, want 5 written", st)
	}
	if len(store.got) != 5 {
		t.Errorf("store got %d readings, want 5", len(store.got))
	}

	a.Consume(normal(9))
	if a.Stats().Dropped != 1 {
		t.Error("Consume after Close should count a drop")
	}
}

func TestArchive_DropsWhenFull(t *testing.T) {
	store := &slowStore{release: make(chan struct{})}
	a := NewArchive(store, "", 2, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 10 {
			a.Consume(normal(i))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume blocked on a full queue")
	}

	if a.Stats().Dropped == 0 {
		t.Error("Dropped = 0, want drops while the writer is stalled")
	}

	close(store.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	st := a.Stats()
	if st.Written+st.Dropped != 10 {
		t.Errorf("written %d + dropped %d != 10", st.Written, st.Dropped)
	}
}

func TestArchive_CountsFailures(t *testing.T) {
	store := &slowStore{err: errors.New("disk full")}
	a := NewArchive(store, "", 4, nil)
	a.Consume(normal(0))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if st := a.Stats(); st.Failed != 1 || st.Written != 0 {
		t.Errorf("Stats() = %+v, want 1 failed", st)
	}
}

type fakeKafka struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafka) Close() error {
	f.closed = true
	return nil
}

func TestKafka_PublishesWirePayload(t *testing.T) {
	w := &fakeKafka{}
	codec := telemetry.Codec{DeviceID: "sensor-01"}
	k := newKafka(w, codec, nil)

	in := normal(3)
	k.Consume(in)

	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "sensor-01" {
		t.Errorf("Key = %q, want sensor-01", msg.Key)
	}
	if !msg.Time.Equal(in.Timestamp) {
		t.Errorf("Time = %v, want %v", msg.Time, in.Timestamp)
	}
	out, err := codec.Decode(msg.Value)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !out.Timestamp.Equal(in.Timestamp) || out.Temperature != in.Temperature ||
		out.Humidity != in.Humidity || out.CO2 != in.CO2 {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}

	if err := k.Close(); err != nil || !w.closed {
		t.Errorf("Close() = %v, closed = %v", err, w.closed)
	}
}

func TestKafka_CountsFailures(t *testing.T) {
	w := &fakeKafka{err: errors.New("leader not available")}
	k := newKafka(w, telemetry.Codec{}, nil)

	k.Consume(normal(0))
	k.Consume(reading(1, math.NaN(), 50, 600))
	k.completed(make([]kafka.Message, 3), nil)
	k.completed(make([]kafka.Message, 2), errors.New("timeout"))

	st := k.Stats()
	if st.Failed != 3 || st.EncodeFailed != 1 || st.Sent != 3 {
		t.Errorf("Stats() = %+v, want sent 3, failed 3, encode_failed 1", st)
	}
}

type recordingHub struct {
	channels []string
	payloads []any
}

func (h *recordingHub) Broadcast(channel string, payload any) {
	h.channels = append(h.channels, channel)
	h.payloads = append(h.payloads, payload)
}

func TestBroadcast(t *testing.T) {
	hub := &recordingHub{}
	alerts := NewAlerts(DefaultThresholds(), 5)
	alerts.OnTransition(BroadcastAlerts(hub))

	f := NewFanout(nil, NewBroadcast(hub), alerts)
	f.Consume(normal(0))
	f.Consume(reading(1, 40, 50, 600))

	want := []string{ChannelReading, ChannelReading, ChannelAlert}
	if len(hub.channels) != len(want) {
		t.Fatalf("channels = %v, want %v", hub.channels, want)
	}
	for i := range want {
		if hub.channels[i] != want[i] {
			t.Errorf("channel %d = %s, want %s", i, hub.channels[i], want[i])
		}
	}
	if ev, ok := hub.payloads[2].(AlertEvent); !ok || ev.Kind != AlertRaised {
		t.Errorf("alert payload = %#v, want raised AlertEvent", hub.payloads[2])
	}
}
