package sink

import "github.com/nerrad567/airsense/internal/telemetry"

// WebSocket channels readings and alerts are published on.
const (
	ChannelReading = "reading"
	ChannelAlert   = "alert"
)

// Broadcaster fans a payload out to subscribers of a channel.
// *api.Hub implements it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Broadcast pushes readings to live clients.
type Broadcast struct {
	b Broadcaster
}

// NewBroadcast returns a sink publishing on ChannelReading.
func NewBroadcast(b Broadcaster) *Broadcast {
	return &Broadcast{b: b}
}

// Consume implements Sink.
func (s *Broadcast) Consume(r telemetry.Reading) {
	s.b.Broadcast(ChannelReading, r)
}

// BroadcastAlerts returns an AlertListener publishing on ChannelAlert.
func BroadcastAlerts(b Broadcaster) AlertListener {
	return func(ev AlertEvent) {
		b.Broadcast(ChannelAlert, ev)
	}
}
