package journey

// The functions in this file derive UI-facing facts from a JourneyState. They
// hold no state of their own.

// StepCount is the number of journey milestones.
const StepCount = 8

var stepLabels = [StepCount]string{
	"Order Placed",
	"Kit Received",
	"Sample Returned",
	"Lab Processing",
	"Results Ready",
	"Schedule Consultation",
	"BRT",
	"Protocol Confirmed",
}

// StepStatus is the display state of one milestone. A step that is neither
// complete nor active is in the future.
type StepStatus struct {
	Complete bool `json:"complete"`
	Active   bool `json:"active"`
}

// Phase collapses the flags into a single label.
func (st StepStatus) Phase() string {
	switch {
	case st.Complete:
		return "complete"
	case st.Active:
		return "active"
	}
	return "future"
}

// StepState returns the state of step i (0..7). Out-of-range indices are
// reported as future.
func StepState(s JourneyState, i int) StepStatus {
	t := s.TestStatus
	c := s.ConsultationStatus
	consultBooked := c == ConsultationScheduled || c == ConsultationCompleted

	switch i {
	case 0:
		return StepStatus{Complete: true}
	case 1:
		return StepStatus{
			Complete: t != TestNone && t != TestOrdered,
			Active:   t == TestOrdered || t == TestReceived,
		}
	case 2:
		return StepStatus{
			Complete: t == TestMailed || t == TestProcessing || t == TestReady,
			Active:   t == TestActivated,
		}
	case 3:
		return StepStatus{Complete: t == TestReady, Active: t == TestProcessing}
	case 4:
		return StepStatus{Complete: t == TestReady}
	case 5:
		return StepStatus{Complete: consultBooked, Active: t == TestReady && !consultBooked}
	case 6:
		b := s.BrtStatus
		return StepStatus{
			Complete: b == BrtScheduled || b == BrtCompleted || b == BrtSkipped,
			Active:   c == ConsultationScheduled && b == BrtOptional,
		}
	case 7:
		return StepStatus{Complete: s.ProbioticsStatus != ProbioticsNone, Active: c == ConsultationCompleted}
	}
	return StepStatus{}
}

// Step is a labelled milestone for list rendering.
type Step struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Phase string `json:"phase"`
	StepStatus
}

func Steps(s JourneyState) []Step {
	out := make([]Step, StepCount)
	for i := range out {
		st := StepState(s, i)
		out[i] = Step{Index: i, Label: stepLabels[i], Phase: st.Phase(), StepStatus: st}
	}
	return out
}

type TabAvailability struct {
	Results      bool `json:"results"`
	Consultation bool `json:"consultation"`
	Probiotics   bool `json:"probiotics"`
}

// Tabs reports which dashboard tabs are open. The consultation tab opens on
// READY so a test-only customer can upgrade from their results.
func Tabs(s JourneyState) TabAvailability {
	return TabAvailability{
		Results:      s.TestStatus == TestReady,
		Consultation: s.ConsultationStatus != ConsultationNone || s.TestStatus == TestReady,
		Probiotics:   s.ConsultationStatus == ConsultationCompleted,
	}
}

func UnreadNotificationCount(s JourneyState) int {
	return s.Notifications.Unread()
}

// QuestionnairePending reports whether the intake banner should show.
func QuestionnairePending(s JourneyState) bool {
	return s.TestStatus != TestNone && !s.QuestionnaireStatus.Completed
}

// ActionState is the availability of one action. Enforced is true when the
// store would reject the action while Allowed is false.
type ActionState struct {
	Allowed  bool   `json:"allowed"`
	Enforced bool   `json:"enforced"`
	Reason   string `json:"reason,omitempty"`
}

// Actions evaluates the guard table for every gated action.
func Actions(s JourneyState, p Policy) map[Action]ActionState {
	out := make(map[Action]ActionState, len(GatedActions))
	for _, a := range GatedActions {
		as := ActionState{Allowed: true, Enforced: p != PolicyPermissive}
		if reason := guards[a](s); reason != "" {
			as.Allowed = false
			as.Reason = reason
		}
		out[a] = as
	}
	return out
}

// Dashboard bundles every derived view for a single response.
type Dashboard struct {
	State                JourneyState           `json:"state"`
	Steps                []Step                 `json:"steps"`
	Tabs                 TabAvailability        `json:"tabs"`
	UnreadCount          int                    `json:"unreadCount"`
	QuestionnairePending bool                   `json:"questionnairePending"`
	NextTestStatus       TestStatus             `json:"nextTestStatus,omitempty"`
	Actions              map[Action]ActionState `json:"actions"`
	Policy               Policy                 `json:"policy"`
}

func BuildDashboard(s JourneyState, p Policy) Dashboard {
	next, _ := s.TestStatus.Next()
	return Dashboard{
		State:                s,
		Steps:                Steps(s),
		Tabs:                 Tabs(s),
		UnreadCount:          UnreadNotificationCount(s),
		QuestionnairePending: QuestionnairePending(s),
		NextTestStatus:       next,
		Actions:              Actions(s, p),
		Policy:               p,
	}
}
