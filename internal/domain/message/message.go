package message

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_store.go -package=mocks . Store

import (
	"context"
	"time"

	"github.com/OrsiniBr/DoTrust/internal/domain/moderation"
)

// HistoryLimit is how many prior messages the classifier gets as context.
const HistoryLimit = 10

// Message is the read model of a chat message owned by the chat service.
type Message struct {
	MessageID         string              `json:"messageId"`
	SenderID          string              `json:"senderId"`
	ReceiverID        string              `json:"receiverId"`
	Text              string              `json:"text"`
	CreatedAt         time.Time           `json:"createdAt"`
	Analysis          *moderation.Verdict `json:"analysis,omitempty"`
	LifeLineDeduction int                 `json:"lifeLineDeduction"`
	PenaltyApplied    bool                `json:"penaltyApplied"`
}

// Store is the engine's view of the external message store.
type Store interface {
	// Get returns nil, nil for unknown ids.
	Get(ctx context.Context, messageID string) (*Message, error)
	// IsAccepted reports whether the message was durably stored.
	IsAccepted(ctx context.Context, messageID string) (bool, error)
	// ListBefore returns up to limit messages between a and b created strictly
	// before the given time, oldest first.
	ListBefore(ctx context.Context, a, b string, before time.Time, limit int) ([]*Message, error)
	SaveAnalysis(ctx context.Context, messageID string, verdict *moderation.Verdict, deduction int, penaltyApplied bool) error
}

// BuildRequest labels history relative to the author of msg.
func BuildRequest(msg *Message, history []*Message) moderation.Request {
	req := moderation.Request{Text: msg.Text}
	for _, h := range history {
		req.History = append(req.History, moderation.HistoryLine{
			FromAuthor: h.SenderID == msg.SenderID,
			Text:       h.Text,
		})
	}
	return req
}
