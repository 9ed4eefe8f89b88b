package natsbus

import "fmt"

// Run lifecycle events are published per run; subscribers usually listen
// on TopicEventsRuns.
func TopicEventsRun(runID string) string {
	return fmt.Sprintf("events.run.%s", runID)
}

const (
	TopicEventsAll      = "events.>"
	TopicEventsRuns     = "events.run.*"
	TopicEventsSchedule = "events.schedule.executed"

	// TopicIPCDispatch accepts dispatch requests from nimbusctl.
	TopicIPCDispatch = "host.ipc.dispatch"
)

// Event types carried in Event.Type.
const (
	EventRunStarted       = "run_started"
	EventAgentCompleted   = "agent_completed"
	EventRunCompleted     = "run_completed"
	EventRunSuperseded    = "run_superseded"
	EventScheduleExecuted = "schedule_executed"
)

// Event is the envelope for everything published under events.>.
type Event struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id,omitempty"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload"`
}
