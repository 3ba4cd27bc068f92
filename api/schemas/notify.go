package schemas

import (
	"time"
)

// -- Notification Schemas --

// Channel identifies a notification delivery channel.
type Channel string

// Constants for the supported channels.
const (
	ChannelChat  Channel = "chat"
	ChannelEmail Channel = "email"
)

// Checkpoint identifies the pipeline point a notification reports on. Each
// run emits exactly one notification per checkpoint, on every path.
type Checkpoint string

// Constants for the notification checkpoints.
const (
	CheckpointStarted      Checkpoint = "started"
	CheckpointScanComplete Checkpoint = "scan-complete"
	CheckpointFinished     Checkpoint = "finished"
)

// NotificationEvent is one structured event emitted by the orchestrator at a
// checkpoint and dispatched to every configured channel.
type NotificationEvent struct {
	RunID      string     `json:"run_id"`
	Checkpoint Checkpoint `json:"checkpoint"`
	Subject    string     `json:"subject"`
	Body       string     `json:"body"`
	// Outcome is set only for finished-checkpoint events.
	Outcome Outcome `json:"outcome,omitempty"`
	// Violations carries the full violated-condition list for gate-failed
	// finishing notifications.
	Violations []Violation `json:"violations,omitempty"`
	// ReportPath references the run's report artifact, when one exists.
	ReportPath string    `json:"report_path,omitempty"`
	EmittedAt  time.Time `json:"emitted_at"`
}

// DeliveryState is the terminal state of one delivery attempt sequence.
type DeliveryState string

// Constants for delivery states.
const (
	DeliverySent   DeliveryState = "sent"
	DeliveryFailed DeliveryState = "failed"
)

// DeliveryStatus records the outcome of delivering one event to one channel.
// A failed delivery is never pipeline-fatal.
type DeliveryStatus struct {
	Channel  Channel       `json:"channel"`
	State    DeliveryState `json:"state"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
}
