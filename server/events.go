package main

import (
	"fmt"

	"github.com/gammadia/standby/lifecycle"
	"github.com/gammadia/standby/server/log"
)

// listenEvents reports lifecycle events until the manager closes the channel on shutdown.
func listenEvents(c <-chan lifecycle.Event) {
	for event := range c {
		switch event := event.(type) {
		case lifecycle.EventNodeStatusUpdated:
			log.Debug("Node status updated", "node", event.Node, "status", event.Status)
		case lifecycle.EventRequestRejected:
			log.Warn("Request rejected", "node", event.Node, "request", event.Request, "reason", event.Reason)
		default:
			log.Debug("Lifecycle event", "type", fmt.Sprintf("%T", event), "event", event)
		}
	}
}
