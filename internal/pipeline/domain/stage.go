// Package domain holds the opportunity aggregate and its stage machine rules.
package domain

import (
	"slices"

	"dealership_crm_backend/internal/eventlog"
	"dealership_crm_backend/platform/apperr"
)

// Stage is an opportunity's position in the sales pipeline.
type Stage string

const (
	StageLead               Stage = "lead"
	StageQualified          Stage = "qualified"
	StageQuoteSent          Stage = "quote_sent"
	StageTestDriveScheduled Stage = "test_drive_scheduled"
	StageTestDriveCompleted Stage = "test_drive_completed"
	StageReservationMade    Stage = "reservation_made"
	StageWon                Stage = "won"
	StageLost               Stage = "lost"
)

// orderedStages is the forward path. lost sits outside it.
var orderedStages = []Stage{
	StageLead,
	StageQualified,
	StageQuoteSent,
	StageTestDriveScheduled,
	StageTestDriveCompleted,
	StageReservationMade,
	StageWon,
}

// Stages returns every stage, forward path first.
func Stages() []Stage {
	return append(slices.Clone(orderedStages), StageLost)
}

// StageNames returns every stage as strings, for validation tags.
func StageNames() []string {
	out := make([]string, 0, len(orderedStages)+1)
	for _, s := range Stages() {
		out = append(out, string(s))
	}
	return out
}

func IsKnownStage(s Stage) bool {
	return s == StageLost || slices.Contains(orderedStages, s)
}

// CanOpenAt reports whether a new opportunity may start in s.
func CanOpenAt(s Stage) bool {
	return s == StageLead || s == StageQualified
}

func (s Stage) IsTerminal() bool {
	return s == StageWon || s == StageLost
}

// ordinal is the position on the forward path, or -1 for lost and unknown stages.
func (s Stage) ordinal() int {
	return slices.Index(orderedStages, s)
}

// IsForwardOf reports whether s lies further along the forward path than current.
func (s Stage) IsForwardOf(current Stage) bool {
	if current.IsTerminal() || s == StageLost {
		return false
	}
	return s.ordinal() > current.ordinal()
}

// DefaultProbability is the win probability assumed on entering a stage.
func (s Stage) DefaultProbability() int {
	switch s {
	case StageLead:
		return 10
	case StageQualified:
		return 20
	case StageQuoteSent:
		return 40
	case StageTestDriveScheduled:
		return 55
	case StageTestDriveCompleted:
		return 70
	case StageReservationMade:
		return 90
	case StageWon:
		return 100
	default:
		return 0
	}
}

// Trigger names what caused a stage change.
type Trigger string

const (
	TriggerManual          Trigger = "manual"
	TriggerAutoProgression Trigger = "auto_progression"
	TriggerAutoLoss        Trigger = "auto_loss"
)

// ReasonInactivityTimeout is recorded on auto-loss transitions.
const ReasonInactivityTimeout = "inactivity_timeout"

// Transition rule names reported in IllegalTransitionError details.
const (
	RuleKnownStage             = "known_stage"
	RuleStageDiffers           = "stage_differs"
	RuleNotTerminal            = "current_not_terminal"
	RuleWonRequiresReservation = "won_requires_reservation"
	RuleOneStepBack            = "one_step_back"
	RuleOverrideRequired       = "override_required"
)

// CodeIllegalTransition is the error code of every rejected manual transition.
const CodeIllegalTransition = "illegal_transition"

// ErrIllegalTransition matches any rejected transition with errors.Is.
var ErrIllegalTransition = apperr.RuleViolation("illegal stage transition").WithCode(CodeIllegalTransition)

func illegalTransition(rule string, from, to Stage, message string) error {
	return apperr.RuleViolation(message).
		WithCode(CodeIllegalTransition).
		WithDetails(map[string]string{"rule": rule, "from": string(from), "to": string(to)})
}

// CheckManual applies the adjacency table to a manual move from current to target.
// One step forward or back is free; any open stage may move to lost;
// won is reached only from reservation_made. Skipping forward needs an override
// with a reason, and the returned flag reports that the override was used.
func CheckManual(current, target Stage, override bool, reason string) (bool, error) {
	switch {
	case !IsKnownStage(target):
		return false, illegalTransition(RuleKnownStage, current, target, "unknown target stage")
	case current == target:
		return false, illegalTransition(RuleStageDiffers, current, target, "opportunity is already in this stage")
	case current.IsTerminal():
		return false, illegalTransition(RuleNotTerminal, current, target, "opportunity is closed")
	case target == StageLost:
		return false, nil
	case target == StageWon:
		if current != StageReservationMade {
			return false, illegalTransition(RuleWonRequiresReservation, current, target, "only a reserved deal can be won")
		}
		return false, nil
	}

	step := target.ordinal() - current.ordinal()
	switch {
	case step == 1 || step == -1:
		return false, nil
	case step < -1:
		return false, illegalTransition(RuleOneStepBack, current, target, "stages can only move back one step")
	case !override || reason == "":
		return false, illegalTransition(RuleOverrideRequired, current, target, "skipping stages requires an override reason")
	default:
		return true, nil
	}
}

// autoProgression maps activity kinds to the stage they imply.
var autoProgression = map[eventlog.Kind]Stage{
	eventlog.KindQuoteSent:          StageQuoteSent,
	eventlog.KindTestDriveScheduled: StageTestDriveScheduled,
	eventlog.KindTestDriveCompleted: StageTestDriveCompleted,
	eventlog.KindReservationMade:    StageReservationMade,
}

// AutoProgressionKinds lists the activity kinds that can advance a stage.
func AutoProgressionKinds() []eventlog.Kind {
	return []eventlog.Kind{
		eventlog.KindQuoteSent,
		eventlog.KindTestDriveScheduled,
		eventlog.KindTestDriveCompleted,
		eventlog.KindReservationMade,
	}
}

// AutoProgressionTarget returns the stage an activity moves the opportunity to.
// ok is false when the kind implies no stage or the stage is not forward of current.
func AutoProgressionTarget(current Stage, kind eventlog.Kind) (Stage, bool) {
	target, ok := autoProgression[kind]
	if !ok || !target.IsForwardOf(current) {
		return "", false
	}
	return target, true
}

// ManualTargets lists the stages a manual move from current reaches without an
// override, in path order.
func ManualTargets(current Stage) []Stage {
	var out []Stage
	for _, s := range Stages() {
		if _, err := CheckManual(current, s, false, ""); err == nil {
			out = append(out, s)
		}
	}
	return out
}
