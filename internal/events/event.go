// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
//
// Business facts are not published here: they are appended to the event log,
// which announces each one as an eventlog.Appended named after its kind.
// The types below are operational notifications between modules.
package events

import (
	"time"

	"dealership_crm_backend/platform/events"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// KPI Domain Events
// =============================================================================

// SnapshotSetPublished is published after a new KPI snapshot set becomes current.
type SnapshotSetPublished struct {
	BaseEvent
	Period     string    `json:"period"`
	Version    int       `json:"version"`
	Digest     string    `json:"digest"`
	ComputedAt time.Time `json:"computedAt"`
}

func (e SnapshotSetPublished) EventName() string { return "kpi.snapshot_set.published" }
