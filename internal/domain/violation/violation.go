package violation

import (
	"time"

	"github.com/google/uuid"
)

// Type is the category of a penalized message.
type Type string

const (
	TypeLowQuality Type = "low_quality"
	TypeToxic      Type = "toxic"
)

// Violation is an append-only record of one life-line deduction.
type Violation struct {
	ID              int64     `json:"-"`
	ViolationID     uuid.UUID `json:"violationId"`
	SessionID       uuid.UUID `json:"sessionId"`
	Offender        string    `json:"offender"`
	MessageID       *string   `json:"messageId,omitempty"`
	Type            Type      `json:"type"`
	PointsDeducted  int       `json:"pointsDeducted"`
	RemainingPoints int       `json:"remainingPoints"`
	Reasoning       string    `json:"reasoning"`
	CreatedAt       time.Time `json:"createdAt"`
}

// TypeForPoints maps a deduction to its category.
func TypeForPoints(points int) Type {
	if points >= 2 {
		return TypeToxic
	}
	return TypeLowQuality
}

// New creates a violation record.
func New(sessionID uuid.UUID, offender string, messageID *string, points, remaining int, reasoning string, now time.Time) *Violation {
	return &Violation{
		ViolationID:     uuid.New(),
		SessionID:       sessionID,
		Offender:        offender,
		MessageID:       messageID,
		Type:            TypeForPoints(points),
		PointsDeducted:  points,
		RemainingPoints: remaining,
		Reasoning:       reasoning,
		CreatedAt:       now,
	}
}
