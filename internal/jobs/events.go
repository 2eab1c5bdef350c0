package jobs

import (
	"sort"
	"sync"
	"time"

	"speech-recorder/internal/command"
	"speech-recorder/internal/domain"
)

// EventType classifies messages emitted during job execution.
type EventType string

const (
	EventTypeStatus   EventType = "status"
	EventTypeProgress EventType = "progress"
	EventTypeLog      EventType = "log"
	EventTypeResult   EventType = "result"
	EventTypeError    EventType = "error"
)

// DefaultMaxEvents bounds the bus when no size is given.
const DefaultMaxEvents = 1000

// Event is a sequenced payload consumed by UI subscribers.
type Event struct {
	Seq        int64            `json:"seq"`
	Timestamp  time.Time        `json:"timestamp"`
	JobID      string           `json:"jobId"`
	Type       EventType        `json:"type"`
	Status     domain.JobStatus `json:"status,omitempty"`
	Message    string           `json:"message,omitempty"`
	Stage      string           `json:"stage,omitempty"`
	Percent    int              `json:"percent,omitempty"`
	Command    string           `json:"command,omitempty"`
	Args       []string         `json:"args,omitempty"`
	ExitCode   int              `json:"exitCode,omitempty"`
	Stdout     string           `json:"stdout,omitempty"`
	Stderr     string           `json:"stderr,omitempty"`
	OutputPath string           `json:"outputPath,omitempty"`
}

// StatusEvent reports a job state change.
func StatusEvent(jobID string, status domain.JobStatus, message string) Event {
	return Event{JobID: jobID, Type: EventTypeStatus, Status: status, Message: message}
}

// ProgressEvent reports a new integer percent.
func ProgressEvent(jobID string, pct int) Event {
	return Event{JobID: jobID, Type: EventTypeProgress, Percent: pct}
}

// CommandEvent carries the log of an external command that failed.
func CommandEvent(jobID string, log command.Log) Event {
	return Event{
		JobID:    jobID,
		Type:     EventTypeLog,
		Message:  "Failed command: " + log.String(),
		Command:  log.Command,
		Args:     log.Args,
		ExitCode: log.ExitCode,
		Stdout:   log.Stdout,
		Stderr:   log.Stderr,
	}
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if len(b.events) == b.maxEvents {
		copy(b.events, b.events[1:])
		b.events = b.events[:len(b.events)-1]
	}
	b.events = append(b.events, event)

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// events are appended in Seq order
	i := sort.Search(len(b.events), func(i int) bool { return b.events[i].Seq > seq })
	if i == len(b.events) {
		return nil
	}
	return append([]Event(nil), b.events[i:]...)
}
