package remote

import (
	log "github.com/sirupsen/logrus"

	"github.com/hpgtool/hpg/internal/protocol"
	"github.com/hpgtool/hpg/internal/tracker"
)

// EventForwarder is the tracker backend used while a remote run executes:
// every event goes onto the message bus as an ExecServer.Event frame. Debug
// events are forwarded too; the driving side decides whether to render them.
type EventForwarder struct {
	bus *protocol.Bus
}

var _ tracker.Renderer = (*EventForwarder)(nil)

// NewEventForwarder wraps bus as a tracker backend.
func NewEventForwarder(bus *protocol.Bus) *EventForwarder {
	return &EventForwarder{bus: bus}
}

// Event implements tracker.Renderer.
func (f *EventForwarder) Event(ev tracker.Event) {
	if err := f.bus.Send(protocol.Message{ExecServer: &protocol.ExecServerMessage{Event: &ev}}); err != nil {
		log.WithField("error", err).Debug("dropping tracker event: bus write failed")
	}
}

// SetDebug implements tracker.Renderer. Forwarding is unconditional.
func (f *EventForwarder) SetDebug(bool) {}

// Bus returns the wrapped bus so the server can resume protocol frames
// after switching back to local rendering.
func (f *EventForwarder) Bus() *protocol.Bus { return f.bus }
