package moderation

import (
	"time"

	"github.com/google/uuid"
)

// ViolationType is the classifier's label for a message.
type ViolationType string

const (
	ViolationLowEffort ViolationType = "low_effort"
	ViolationToxic     ViolationType = "toxic"
	ViolationSpam      ViolationType = "spam"
	ViolationNone      ViolationType = "none"
)

// FailedReasoning is recorded when the classifier could not be consulted.
const FailedReasoning = "AI analysis failed - no penalty applied"

// Verdict is the classifier's judgment on a single message.
type Verdict struct {
	IsLowQuality   bool          `json:"isLowQuality"`
	IsToxic        bool          `json:"isToxic"`
	ToxicityScore  float64       `json:"toxicityScore"`
	QualityScore   float64       `json:"qualityScore"`
	ViolationType  ViolationType `json:"violationType"`
	Reasoning      string        `json:"reasoning"`
	Confidence     float64       `json:"confidence"`
	PointsToDeduct int           `json:"pointsToDeduct"`
	ContextAware   bool          `json:"contextAwareness"`
	ProcessedAt    time.Time     `json:"processedAt"`
}

// NeutralVerdict is used whenever classification fails. It never penalizes.
func NeutralVerdict(now time.Time) *Verdict {
	return &Verdict{
		ToxicityScore: 0,
		QualityScore:  1,
		ViolationType: ViolationNone,
		Reasoning:     FailedReasoning,
		Confidence:    0,
		ProcessedAt:   now,
	}
}

// DerivePoints recomputes the deduction from the flags, ignoring whatever
// the classifier put in PointsToDeduct.
func DerivePoints(v *Verdict) int {
	switch {
	case v == nil:
		return 0
	case v.IsToxic:
		return 2
	case v.IsLowQuality:
		return 1
	}
	return 0
}

// Normalize clamps scores into [0,1] and rewrites PointsToDeduct from the flags.
func (v *Verdict) Normalize() {
	v.ToxicityScore = clamp01(v.ToxicityScore)
	v.QualityScore = clamp01(v.QualityScore)
	v.Confidence = clamp01(v.Confidence)
	if v.ViolationType == "" {
		v.ViolationType = ViolationNone
	}
	v.PointsToDeduct = DerivePoints(v)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// HistoryLine is one prior message, labelled relative to the author of the
// message under review.
type HistoryLine struct {
	FromAuthor bool
	Text       string
}

// Request is what the classifier sees.
type Request struct {
	Text    string
	History []HistoryLine
}

// Job asks the pipeline to review one accepted message.
type Job struct {
	MessageID string
	SessionID uuid.UUID
	Sender    string
	Receiver  string
	SentAt    time.Time
}
