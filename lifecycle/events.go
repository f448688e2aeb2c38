package lifecycle

import "time"

type Event interface{}

// Nodes

type EventNodeRegistered struct {
	Node string
}

type EventNodeStatusUpdated struct {
	Node   string
	Status NodeStatus
}

type EventNodeProvisioned struct {
	Node     string
	Endpoint Endpoint
	Took     time.Duration
}

type EventNodeProvisioningFailed struct {
	Node  string
	Error string
}

type EventNodeTerminated struct {
	Node   string
	Reason TerminationReason
}

type EventNodeUnregistered struct {
	Node string
}

// Requests

type EventRequestQueued struct {
	Node    string
	Request uint64
}

type EventRequestDequeued struct {
	Node    string
	Request uint64
	Waited  time.Duration
}

type EventRequestRejected struct {
	Node    string
	Request uint64
	Reason  ErrorKind
}

type TerminationReason string

const (
	TerminationReasonRequested  TerminationReason = "requested"
	TerminationReasonIdle       TerminationReason = "idle"
	TerminationReasonShutdown   TerminationReason = "shutdown"
	TerminationReasonUnregister TerminationReason = "unregister"
)
