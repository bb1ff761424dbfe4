package scheduler

import (
	"fmt"
	"time"
)

// EventKind tags an Event.
type EventKind int

const (
	EventStarted EventKind = iota
	EventCompleted
	EventSkipped
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventCompleted:
		return "completed"
	case EventSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Skip reasons.
const (
	ReasonBlacklisted = "blacklisted"
	ReasonNoRemote    = "no remote configured"
	ReasonCooldown    = "cooldown not elapsed"
	ReasonCacheError  = "repository cache unavailable"
)

// Event reports progress of one repository. Success and Message are set on
// EventCompleted; Reason on EventSkipped.
type Event struct {
	Kind     EventKind
	RepoName string
	Path     string
	Success  bool
	Message  string
	Reason   string
	Time     time.Time
}

func started(name, path string) Event {
	return Event{Kind: EventStarted, RepoName: name, Path: path, Time: time.Now()}
}

func completed(name, path string, success bool, message string) Event {
	return Event{Kind: EventCompleted, RepoName: name, Path: path, Success: success, Message: message, Time: time.Now()}
}

func skipped(name, path, reason string) Event {
	return Event{Kind: EventSkipped, RepoName: name, Path: path, Reason: reason, Time: time.Now()}
}

func (e Event) String() string {
	switch e.Kind {
	case EventStarted:
		return fmt.Sprintf("%s: pulling", e.RepoName)
	case EventCompleted:
		if e.Success {
			return fmt.Sprintf("%s: ok", e.RepoName)
		}
		return fmt.Sprintf("%s: failed: %s", e.RepoName, e.Message)
	case EventSkipped:
		return fmt.Sprintf("%s: skipped (%s)", e.RepoName, e.Reason)
	default:
		return e.RepoName
	}
}

// Handler consumes events. It is only ever called from one goroutine.
type Handler func(Event)

// Summary aggregates one run.
type Summary struct {
	Succeeded int
	Failed    int
	Skipped   int
	Batches   int
	Duration  time.Duration
	Failures  map[string]string // repo path -> message
}

// Attempted is the number of repositories a pull was run for.
func (s Summary) Attempted() int {
	return s.Succeeded + s.Failed
}

// Total is the number of repositories considered.
func (s Summary) Total() int {
	return s.Attempted() + s.Skipped
}

func (s Summary) String() string {
	return fmt.Sprintf("attempted %d (ok %d, failed %d), skipped %d, total %d in %s",
		s.Attempted(), s.Succeeded, s.Failed, s.Skipped, s.Total(), s.Duration.Round(time.Millisecond))
}
