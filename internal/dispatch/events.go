package dispatch

import (
	"log/slog"

	"github.com/mtzanidakis/nimbus/internal/natsbus"
)

// EventPublisher is satisfied by *natsbus.Client.
type EventPublisher interface {
	PublishEvent(topic, eventType, runID string, payload any) error
}

// EventForwarder relays aggregator changes onto the bus.
type EventForwarder struct {
	pub EventPublisher
}

func NewEventForwarder(pub EventPublisher) *EventForwarder {
	return &EventForwarder{pub: pub}
}

func (f *EventForwarder) RunStarted(run RunState) {
	f.publish(natsbus.EventRunStarted, run.ID, run)
}

func (f *EventForwarder) OutcomeRecorded(run RunState, o Outcome) {
	f.publish(natsbus.EventAgentCompleted, run.ID, o)
}

func (f *EventForwarder) RunCompleted(run RunState) {
	f.publish(natsbus.EventRunCompleted, run.ID, run)
}

func (f *EventForwarder) RunSuperseded(run RunState) {
	f.publish(natsbus.EventRunSuperseded, run.ID, run)
}

func (f *EventForwarder) publish(eventType, runID string, payload any) {
	if err := f.pub.PublishEvent(natsbus.TopicEventsRun(runID), eventType, runID, payload); err != nil {
		slog.Warn("publish run event failed", "type", eventType, "run", runID, "error", err)
	}
}
