package hashfield

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventName is the notification emitted after a successful mutation.
type EventName string

const (
	EventHSet  EventName = "hset"
	EventHDel  EventName = "hdel"
	EventHIncr EventName = "hincr"
	EventHDecr EventName = "hdecr"
)

// Event describes one applied mutation. Seq is assigned per layer in
// emission order; ID is globally unique.
type Event struct {
	ID    string    `json:"id"`
	Seq   uint64    `json:"seq"`
	Name  EventName `json:"name"`
	Key   string    `json:"key"`
	Field string    `json:"field"`
	Value Value     `json:"value"`
	At    time.Time `json:"at"`
}

// Observer receives events in Seq order. Notify must not block for long; it
// runs on the caller's goroutine after the key lock has been released, and
// deliveries are serialized, so Notify may read through the Layer but must
// not write through it.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(ev Event) { f(ev) }

type multiObserver []Observer

func (m multiObserver) Notify(ev Event) {
	for _, o := range m {
		o.Notify(ev)
	}
}

// Observers fans each event out to every non-nil observer, in order.
func Observers(obs ...Observer) Observer {
	var out multiObserver
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

// Recorder keeps an append-only journal of events. With a positive limit
// only the newest limit events are retained.
type Recorder struct {
	mu     sync.RWMutex
	events []Event
	limit  int
}

func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Notify(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = append([]Event(nil), r.events[len(r.events)-r.limit:]...)
	}
}

// Events returns a copy of the journal.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Event(nil), r.events...)
}

// Since returns the retained events with Seq greater than seq.
func (r *Recorder) Since(seq uint64) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

// Names lists the event names in order; handy in tests.
func (r *Recorder) Names() []EventName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]EventName, len(r.events))
	for i, ev := range r.events {
		names[i] = ev.Name
	}
	return names
}

// LogObserver writes every event to a zerolog logger at debug level.
type LogObserver struct {
	Logger zerolog.Logger
}

func (o LogObserver) Notify(ev Event) {
	o.Logger.Debug().
		Str("event", string(ev.Name)).
		Uint64("seq", ev.Seq).
		Str("key", ev.Key).
		Str("field", ev.Field).
		Str("value", ev.Value.String()).
		Msg("hash mutation")
}
