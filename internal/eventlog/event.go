// Package eventlog is the append-only store of domain events.
// Every lead score, pipeline stage and KPI snapshot is derived from it.
package eventlog

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// SubjectType names the kind of stream an event belongs to.
type SubjectType string

const (
	SubjectLead        SubjectType = "lead"
	SubjectOpportunity SubjectType = "opportunity"
	SubjectReservation SubjectType = "reservation"
)

// Kind identifies what happened.
type Kind string

const (
	KindLeadCreated       Kind = "lead_created"
	KindLeadUpdated       Kind = "lead_updated"
	KindLeadStatusChanged Kind = "lead_status_changed"
	KindContactLogged     Kind = "contact_logged"
	KindNoteAdded         Kind = "note_added"
	KindFollowUpScheduled Kind = "follow_up_scheduled"
	KindLeadArchived      Kind = "lead_archived"

	KindOpportunityOpened  Kind = "opportunity_opened"
	KindOpportunityUpdated Kind = "opportunity_updated"
	KindAutomationChanged  Kind = "automation_changed"
	KindNextActionSet      Kind = "next_action_set"
	KindQuoteSent          Kind = "quote_sent"
	KindQuoteViewed        Kind = "quote_viewed"
	KindTestDriveScheduled Kind = "test_drive_scheduled"
	KindTestDriveCompleted Kind = "test_drive_completed"
	KindReservationMade    Kind = "reservation_made"
	KindStageChanged       Kind = "stage_changed"
	KindDealReserved       Kind = "deal_reserved"
	KindDealWon            Kind = "deal_won"

	KindReservationCreated       Kind = "reservation_created"
	KindReservationStatusChanged Kind = "reservation_status_changed"
)

// kindStreams lists, per kind, the subject types it may be appended to.
var kindStreams = map[Kind]SubjectType{
	KindLeadCreated:       SubjectLead,
	KindLeadUpdated:       SubjectLead,
	KindLeadStatusChanged: SubjectLead,
	KindContactLogged:     SubjectLead,
	KindNoteAdded:         SubjectLead,
	KindFollowUpScheduled: SubjectLead,
	KindLeadArchived:      SubjectLead,

	KindOpportunityOpened:  SubjectOpportunity,
	KindOpportunityUpdated: SubjectOpportunity,
	KindAutomationChanged:  SubjectOpportunity,
	KindNextActionSet:      SubjectOpportunity,
	KindQuoteSent:          SubjectOpportunity,
	KindQuoteViewed:        SubjectOpportunity,
	KindTestDriveScheduled: SubjectOpportunity,
	KindTestDriveCompleted: SubjectOpportunity,
	KindReservationMade:    SubjectOpportunity,
	KindStageChanged:       SubjectOpportunity,
	KindDealReserved:       SubjectOpportunity,
	KindDealWon:            SubjectOpportunity,

	KindReservationCreated:       SubjectReservation,
	KindReservationStatusChanged: SubjectReservation,
}

// IsKnownKind reports whether k is a recognized event kind.
func IsKnownKind(k Kind) bool {
	_, ok := kindStreams[k]
	return ok
}

// Kinds returns every recognized kind.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindStreams))
	for k := range kindStreams {
		out = append(out, k)
	}
	return out
}

// KindsFor returns the kinds that may be appended to subjectType, sorted by name.
func KindsFor(subjectType SubjectType) []Kind {
	var out []Kind
	for k, st := range kindStreams {
		if st == subjectType {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// AnyVersion disables the optimistic concurrency check on Append.
const AnyVersion = -1

// Event is an immutable, recorded domain event.
type Event struct {
	ID            uuid.UUID       `json:"eventId"`
	Sequence      int64           `json:"sequence"`
	StreamVersion int             `json:"streamVersion"`
	OccurredAt    time.Time       `json:"occurredAt"`
	RecordedAt    time.Time       `json:"recordedAt"`
	SubjectType   SubjectType     `json:"subjectType"`
	SubjectID     uuid.UUID       `json:"subjectId"`
	Kind          Kind            `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	ActorID       uuid.UUID       `json:"actorId"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// NewEvent is the caller-supplied part of an event.
// OccurredAt defaults to the recording time when zero.
type NewEvent struct {
	SubjectType SubjectType
	SubjectID   uuid.UUID
	Kind        Kind
	Payload     json.RawMessage
	ActorID     uuid.UUID
	OccurredAt  time.Time
}

// NewEventFor builds a NewEvent with payload marshalled from v.
func NewEventFor(subjectType SubjectType, subjectID uuid.UUID, kind Kind, actorID uuid.UUID, occurredAt time.Time, v any) (NewEvent, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return NewEvent{}, InvalidEvent("payload could not be encoded").WithDetails(map[string]string{"rule": "payload_encodable"})
	}
	return NewEvent{
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Kind:        kind,
		Payload:     payload,
		ActorID:     actorID,
		OccurredAt:  occurredAt,
	}, nil
}

// Validate checks that the event can be appended.
func (n NewEvent) Validate() error {
	if n.SubjectID == uuid.Nil {
		return InvalidEvent("subject id is required").WithDetails(map[string]string{"rule": "subject_id_required"})
	}
	expected, ok := kindStreams[n.Kind]
	if !ok {
		return InvalidEvent("unrecognized event kind").WithDetails(map[string]string{"rule": "known_kind", "kind": string(n.Kind)})
	}
	if n.SubjectType != expected {
		return InvalidEvent("event kind not allowed on subject type").WithDetails(map[string]string{
			"rule":        "kind_matches_subject",
			"kind":        string(n.Kind),
			"subjectType": string(n.SubjectType),
		})
	}
	var obj map[string]json.RawMessage
	if len(n.Payload) == 0 || json.Unmarshal(n.Payload, &obj) != nil || obj == nil {
		return InvalidEvent("payload must be a JSON object").WithDetails(map[string]string{"rule": "payload_object"})
	}
	return nil
}

// streamKey identifies one subject stream.
type streamKey struct {
	subjectType SubjectType
	subjectID   uuid.UUID
}
