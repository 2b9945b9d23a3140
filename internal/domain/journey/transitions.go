package journey

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is matched by every *TransitionError.
	ErrInvalidTransition = errors.New("invalid journey transition")
	// ErrUnknownStatus is returned for enum values outside the known set.
	ErrUnknownStatus = errors.New("unknown status")
	// ErrPersistence wraps repository failures. The in-memory state is left at
	// the last persisted value when it is returned.
	ErrPersistence = errors.New("journey state not persisted")
	// ErrNoLabResults is returned when an operation needs results that do not
	// exist yet.
	ErrNoLabResults = errors.New("lab results not available")
)

// Policy decides whether the store enforces the guard table.
type Policy string

const (
	// PolicyStrict rejects operations whose preconditions do not hold.
	PolicyStrict Policy = "strict"
	// PolicyPermissive applies every operation and leaves gating to callers.
	PolicyPermissive Policy = "permissive"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyStrict, PolicyPermissive:
		return Policy(s), nil
	case "":
		return PolicyStrict, nil
	}
	return "", fmt.Errorf("unknown transition policy %q", s)
}

// Action names a mutating store operation.
type Action string

const (
	ActionBuyTestOnly           Action = "buy_test_only"
	ActionBuyBundle             Action = "buy_bundle"
	ActionBuyUpgrade            Action = "buy_upgrade"
	ActionAdvanceTest           Action = "advance_test"
	ActionScheduleConsultation  Action = "schedule_consultation"
	ActionScheduleBrt           Action = "schedule_brt"
	ActionSkipBrt               Action = "skip_brt"
	ActionCompleteConsultation  Action = "complete_consultation"
	ActionCompleteQuestionnaire Action = "complete_questionnaire"
	ActionPurchaseProbiotics    Action = "purchase_probiotics"
	ActionShipProbiotics        Action = "ship_probiotics"
	ActionMarkRead              Action = "mark_notification_read"
	ActionReset                 Action = "reset"
)

// GatedActions lists the actions covered by the guard table, in journey order.
var GatedActions = []Action{
	ActionBuyTestOnly,
	ActionBuyBundle,
	ActionBuyUpgrade,
	ActionAdvanceTest,
	ActionScheduleConsultation,
	ActionScheduleBrt,
	ActionSkipBrt,
	ActionCompleteConsultation,
	ActionCompleteQuestionnaire,
	ActionPurchaseProbiotics,
	ActionShipProbiotics,
}

func buyAction(o PurchaseOption) Action {
	switch o {
	case OptionBundle:
		return ActionBuyBundle
	case OptionUpgrade:
		return ActionBuyUpgrade
	}
	return ActionBuyTestOnly
}

// TransitionError describes a rejected operation.
type TransitionError struct {
	Action Action
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Reason)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// guard returns an empty string when the action is allowed on s, otherwise
// the reason it is not.
type guard func(s JourneyState) string

var guards = map[Action]guard{
	ActionBuyTestOnly: requireNoTest,
	ActionBuyBundle:   requireNoTest,
	ActionBuyUpgrade: func(s JourneyState) string {
		if s.TestStatus == TestNone {
			return "no test purchased to upgrade"
		}
		if s.ConsultationStatus != ConsultationNone {
			return "consultation already purchased"
		}
		return ""
	},
	ActionAdvanceTest: func(s JourneyState) string {
		if _, ok := s.TestStatus.Next(); !ok {
			return "test kit has no further status"
		}
		return ""
	},
	ActionScheduleConsultation: func(s JourneyState) string {
		if s.ConsultationStatus != ConsultationPurchased && s.ConsultationStatus != ConsultationScheduled {
			return fmt.Sprintf("consultation is %s", s.ConsultationStatus)
		}
		return ""
	},
	ActionScheduleBrt: requireBrtDecision,
	ActionSkipBrt:     requireBrtDecision,
	ActionCompleteConsultation: func(s JourneyState) string {
		if s.ConsultationStatus != ConsultationScheduled {
			return fmt.Sprintf("consultation is %s", s.ConsultationStatus)
		}
		return ""
	},
	ActionCompleteQuestionnaire: func(s JourneyState) string {
		if s.TestStatus == TestNone {
			return "no test purchased"
		}
		if s.QuestionnaireStatus.Completed {
			return "questionnaire already completed"
		}
		return ""
	},
	ActionPurchaseProbiotics: func(s JourneyState) string {
		if s.ProbioticsStatus != ProbioticsRecommended {
			return fmt.Sprintf("probiotics are %s", s.ProbioticsStatus)
		}
		return ""
	},
	ActionShipProbiotics: func(s JourneyState) string {
		if s.ProbioticsStatus != ProbioticsPaid {
			return fmt.Sprintf("probiotics are %s", s.ProbioticsStatus)
		}
		return ""
	},
}

// requireBrtDecision gates both booking and declining the BRT session: the
// consultation has to be booked first, so step 6 never completes before step 5.
func requireBrtDecision(s JourneyState) string {
	if s.ConsultationStatus != ConsultationScheduled && s.ConsultationStatus != ConsultationCompleted {
		return "consultation not scheduled"
	}
	if !s.BrtStatus.Decidable() {
		return fmt.Sprintf("brt session is %s", s.BrtStatus)
	}
	return ""
}

func requireNoTest(s JourneyState) string {
	if s.TestStatus != TestNone {
		return fmt.Sprintf("test already %s", s.TestStatus)
	}
	return ""
}

// Check evaluates the guard for a on s. Actions without a guard are always
// allowed.
func Check(s JourneyState, a Action) error {
	g, ok := guards[a]
	if !ok {
		return nil
	}
	if reason := g(s); reason != "" {
		return &TransitionError{Action: a, Reason: reason}
	}
	return nil
}

// CheckAdvance evaluates AdvanceTestStatus(next): next must be the immediate
// successor of the current test status.
func CheckAdvance(s JourneyState, next TestStatus) error {
	want, ok := s.TestStatus.Next()
	if !ok {
		return &TransitionError{Action: ActionAdvanceTest, Reason: "test kit has no further status"}
	}
	if next != want {
		return &TransitionError{
			Action: ActionAdvanceTest,
			Reason: fmt.Sprintf("cannot move from %s to %s, expected %s", s.TestStatus, next, want),
		}
	}
	return nil
}

// enforce applies p to the result of a guard evaluation.
func (p Policy) enforce(err error) error {
	if p == PolicyPermissive {
		return nil
	}
	return err
}
