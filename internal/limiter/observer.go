package limiter

import "time"

// Kind identifies the limiter operation an Event describes.
type Kind string

const (
	KindAcquire    Kind = "acquire"
	KindTryAcquire Kind = "try_acquire"
	KindBackoff    Kind = "backoff"
)

// Outcome is how an acquisition ended.
type Outcome string

const (
	OutcomeGranted   Outcome = "granted"
	OutcomeExhausted Outcome = "exhausted"  // non-blocking call found the bucket empty or paused
	OutcomeHardLimit Outcome = "hard_limit" // a hard limit rejected the call
	OutcomeCanceled  Outcome = "canceled"   // the caller's context ended while waiting
)

// Event describes one limiter operation after it completed.
type Event struct {
	Time    time.Time     `json:"time"`
	Kind    Kind          `json:"kind"`
	Tokens  int           `json:"tokens,omitempty"`
	Outcome Outcome       `json:"outcome,omitempty"`
	Limit   string        `json:"limit,omitempty"`   // violated hard limit, if any
	Waited  time.Duration `json:"waited,omitempty"`  // time spent suspended in Acquire
	Backoff time.Duration `json:"backoff,omitempty"` // requested pause for KindBackoff
}

// Observer receives limiter events. Observe is called synchronously and
// outside any limiter lock, so implementations must be quick and must not
// call back into the limiter that emitted the event.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type multiObserver []Observer

func (m multiObserver) Observe(e Event) {
	for _, o := range m {
		o.Observe(e)
	}
}

// Observers fans events out to every non-nil observer.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type noopObserver struct{}

func (noopObserver) Observe(Event) {}
