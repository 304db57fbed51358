// Package jobs holds the runtime-only job tables: Knowledge Juice brew jobs,
// component test jobs, and per-video notes progress. Every mutation returns a
// bounded snapshot and publishes an event, so subscribers can mirror job state
// without polling. Nothing here is persisted; a restart empties all tables.
package jobs

import (
	"sync"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/realtime"
)

// Publisher receives every snapshot event the registry produces. The app
// wires it to the realtime bus; tests pass a recorder.
type Publisher interface {
	Publish(evt realtime.Event)
}

type Registry struct {
	log *logger.Logger
	pub Publisher

	brewMu sync.Mutex
	brew   map[string]*BrewJob

	compMu    sync.Mutex
	component map[string]*ComponentTestJob

	notesMu sync.Mutex
	analyze map[string]TaskProgress
	ask     map[string]TaskProgress
	active  map[string]bool
}

func NewRegistry(baseLog *logger.Logger, pub Publisher) *Registry {
	return &Registry{
		log:       baseLog.With("component", "JobRegistry"),
		pub:       pub,
		brew:      make(map[string]*BrewJob),
		component: make(map[string]*ComponentTestJob),
		analyze:   make(map[string]TaskProgress),
		ask:       make(map[string]TaskProgress),
		active:    make(map[string]bool),
	}
}

func (r *Registry) publish(evt realtime.Event) {
	if r.pub != nil {
		r.pub.Publish(evt)
	}
}

// Hello composes the greeting sent to a freshly connected subscriber.
func (r *Registry) Hello(runtime any) realtime.Event {
	return realtime.Event{
		Type:                realtime.EventHello,
		Runtime:             runtime,
		ActiveJobs:          r.ListBrewJobs(true),
		ActiveComponentJobs: r.ListComponentJobs(true),
	}
}
