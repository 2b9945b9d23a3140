package journey

import (
	"fmt"
	"time"

	"github.com/gmtcc/insight/internal/platform/notification"
)

// DefaultName is the display name of a fresh simulated profile.
const DefaultName = "Alex Doe"

// ---------------------------------------------------------------------------
// Test kit status
// ---------------------------------------------------------------------------

// TestStatus is the position of the test kit in the fulfilment pipeline.
type TestStatus string

const (
	TestNone       TestStatus = "NONE"
	TestOrdered    TestStatus = "ORDERED"
	TestReceived   TestStatus = "RECEIVED"
	TestActivated  TestStatus = "ACTIVATED"
	TestMailed     TestStatus = "MAILED"
	TestProcessing TestStatus = "PROCESSING"
	TestReady      TestStatus = "READY"
)

var testPipeline = []TestStatus{
	TestNone, TestOrdered, TestReceived, TestActivated, TestMailed, TestProcessing, TestReady,
}

// Rank returns the position of s in the pipeline, or -1 if s is unknown.
func (s TestStatus) Rank() int {
	for i, v := range testPipeline {
		if v == s {
			return i
		}
	}
	return -1
}

func (s TestStatus) IsValid() bool { return s.Rank() >= 0 }

// Next returns the immediate successor of s. READY has none.
func (s TestStatus) Next() (TestStatus, bool) {
	r := s.Rank()
	if r < 0 || r == len(testPipeline)-1 {
		return "", false
	}
	return testPipeline[r+1], true
}

// AtLeast reports whether s is at or past other in the pipeline.
func (s TestStatus) AtLeast(other TestStatus) bool {
	return s.Rank() >= other.Rank()
}

func ParseTestStatus(s string) (TestStatus, error) {
	v := TestStatus(s)
	if !v.IsValid() {
		return "", fmt.Errorf("%w: test status %q", ErrUnknownStatus, s)
	}
	return v, nil
}

func (s *TestStatus) UnmarshalText(b []byte) error {
	v, err := ParseTestStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ---------------------------------------------------------------------------
// Consultation status
// ---------------------------------------------------------------------------

type ConsultationStatus string

const (
	ConsultationNone      ConsultationStatus = "NONE"
	ConsultationPurchased ConsultationStatus = "PURCHASED"
	ConsultationScheduled ConsultationStatus = "SCHEDULED"
	ConsultationCompleted ConsultationStatus = "COMPLETED"
)

func (s ConsultationStatus) IsValid() bool {
	switch s {
	case ConsultationNone, ConsultationPurchased, ConsultationScheduled, ConsultationCompleted:
		return true
	}
	return false
}

func ParseConsultationStatus(s string) (ConsultationStatus, error) {
	v := ConsultationStatus(s)
	if !v.IsValid() {
		return "", fmt.Errorf("%w: consultation status %q", ErrUnknownStatus, s)
	}
	return v, nil
}

func (s *ConsultationStatus) UnmarshalText(b []byte) error {
	v, err := ParseConsultationStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ---------------------------------------------------------------------------
// BRT status
// ---------------------------------------------------------------------------

// BrtStatus tracks the optional bio-resonance therapy session.
type BrtStatus string

const (
	BrtNone      BrtStatus = "NONE"
	BrtOptional  BrtStatus = "OPTIONAL"
	BrtScheduled BrtStatus = "SCHEDULED"
	BrtCompleted BrtStatus = "COMPLETED"
	BrtSkipped   BrtStatus = "SKIPPED"
)

func (s BrtStatus) IsValid() bool {
	switch s {
	case BrtNone, BrtOptional, BrtScheduled, BrtCompleted, BrtSkipped:
		return true
	}
	return false
}

// Decidable reports whether the session can still be booked or declined.
func (s BrtStatus) Decidable() bool {
	return s == BrtOptional || s == BrtScheduled || s == BrtSkipped
}

func ParseBrtStatus(s string) (BrtStatus, error) {
	v := BrtStatus(s)
	if !v.IsValid() {
		return "", fmt.Errorf("%w: brt status %q", ErrUnknownStatus, s)
	}
	return v, nil
}

func (s *BrtStatus) UnmarshalText(b []byte) error {
	v, err := ParseBrtStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ---------------------------------------------------------------------------
// Probiotics status
// ---------------------------------------------------------------------------

type ProbioticsStatus string

const (
	ProbioticsNone        ProbioticsStatus = "NONE"
	ProbioticsRecommended ProbioticsStatus = "RECOMMENDED"
	ProbioticsPaid        ProbioticsStatus = "PAID"
	ProbioticsShipped     ProbioticsStatus = "SHIPPED"
)

func (s ProbioticsStatus) IsValid() bool {
	switch s {
	case ProbioticsNone, ProbioticsRecommended, ProbioticsPaid, ProbioticsShipped:
		return true
	}
	return false
}

func ParseProbioticsStatus(s string) (ProbioticsStatus, error) {
	v := ProbioticsStatus(s)
	if !v.IsValid() {
		return "", fmt.Errorf("%w: probiotics status %q", ErrUnknownStatus, s)
	}
	return v, nil
}

func (s *ProbioticsStatus) UnmarshalText(b []byte) error {
	v, err := ParseProbioticsStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ---------------------------------------------------------------------------
// Purchase options
// ---------------------------------------------------------------------------

// PurchaseOption is a storefront product line.
type PurchaseOption string

const (
	// OptionTestOnly is Option A, the discovery kit (HKD 3000).
	OptionTestOnly PurchaseOption = "TEST_ONLY"
	// OptionBundle is Option B, kit plus consultation and BRT (HKD 3900).
	OptionBundle PurchaseOption = "BUNDLE"
	// OptionUpgrade adds the consultation to a test-only order (HKD 1200).
	OptionUpgrade PurchaseOption = "UPGRADE"
)

func (o PurchaseOption) IsValid() bool {
	switch o {
	case OptionTestOnly, OptionBundle, OptionUpgrade:
		return true
	}
	return false
}

func ParsePurchaseOption(s string) (PurchaseOption, error) {
	v := PurchaseOption(s)
	if !v.IsValid() {
		return "", fmt.Errorf("%w: purchase option %q", ErrUnknownStatus, s)
	}
	return v, nil
}

func (o *PurchaseOption) UnmarshalText(b []byte) error {
	v, err := ParsePurchaseOption(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// ---------------------------------------------------------------------------
// Aggregate
// ---------------------------------------------------------------------------

// LabResults is the microbiome analysis attached when the kit reaches READY.
type LabResults struct {
	DiversityScore int       `json:"diversityScore"`
	GoodBacteria   int       `json:"goodBacteria"`
	BadBacteria    int       `json:"badBacteria"`
	Sensitivity    string    `json:"sensitivity"`
	GeneratedAt    time.Time `json:"generatedAt"`
}

// FixtureResults returns the deterministic result used by the simulation.
func FixtureResults(at time.Time) *LabResults {
	return &LabResults{
		DiversityScore: 65,
		GoodBacteria:   72,
		BadBacteria:    15,
		Sensitivity:    "Gluten Mild",
		GeneratedAt:    at,
	}
}

type QuestionnaireStatus struct {
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// JourneyState is the whole patient journey of the simulated profile. It is
// persisted as a single JSON document.
type JourneyState struct {
	Name                string              `json:"name"`
	TestStatus          TestStatus          `json:"testStatus"`
	ConsultationStatus  ConsultationStatus  `json:"consultationStatus"`
	BrtStatus           BrtStatus           `json:"brtStatus"`
	ProbioticsStatus    ProbioticsStatus    `json:"probioticsStatus"`
	QuestionnaireStatus QuestionnaireStatus `json:"questionnaireStatus"`
	LabResults          *LabResults         `json:"labResults,omitempty"`
	ConsultationDate    *time.Time          `json:"consultationDate,omitempty"`
	BrtDate             *time.Time          `json:"brtDate,omitempty"`
	PurchaseHistory     []PurchaseOption    `json:"purchaseHistory"`
	Notifications       notification.Log    `json:"notifications"`
}

// DefaultState returns a fresh profile with nothing purchased.
func DefaultState() JourneyState {
	return JourneyState{
		Name:               DefaultName,
		TestStatus:         TestNone,
		ConsultationStatus: ConsultationNone,
		BrtStatus:          BrtNone,
		ProbioticsStatus:   ProbioticsNone,
		PurchaseHistory:    []PurchaseOption{},
		Notifications:      notification.Log{},
	}
}

// Clone returns a deep copy. Mutating the copy never affects s.
func (s JourneyState) Clone() JourneyState {
	out := s
	if s.LabResults != nil {
		lr := *s.LabResults
		out.LabResults = &lr
	}
	out.ConsultationDate = cloneTime(s.ConsultationDate)
	out.BrtDate = cloneTime(s.BrtDate)
	out.QuestionnaireStatus.CompletedAt = cloneTime(s.QuestionnaireStatus.CompletedAt)
	out.PurchaseHistory = append([]PurchaseOption{}, s.PurchaseHistory...)
	out.Notifications = s.Notifications.Clone()
	if out.Notifications == nil {
		out.Notifications = notification.Log{}
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
