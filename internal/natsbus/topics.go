package natsbus

import "fmt"

// Event topics. Every coordinator event lives under "events." so a single
// wildcard subscription sees all of them.

func TopicEventsRun(runID string) string {
	return fmt.Sprintf("events.run.%s", runID)
}

func TopicEventsWorker(role string) string {
	return fmt.Sprintf("events.worker.%s", role)
}

const (
	TopicEventsAll    = "events.>"
	TopicEventsRuns   = "events.run.*"
	TopicEventsConfig = "events.config"
	TopicEventsStore  = "events.store"
)
