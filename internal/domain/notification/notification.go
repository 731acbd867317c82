package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event names pushed to participants.
type Event string

const (
	EventRoundStarted      Event = "game:timer:start"
	EventRoundStopped      Event = "game:timer:stop"
	EventRoundExpired      Event = "game:timer:expired"
	EventRefundTimerStart  Event = "refund:timer:start"
	EventRefundTimerExpire Event = "refund:timer:expired"
	EventSessionEnded      Event = "session:ended"
	EventDepositRecorded   Event = "deposit:recorded"
	EventLifelineUpdate    Event = "lifeline:update"
	EventSessionForfeited  Event = "session:forfeited"
	EventSettled           Event = "settlement:confirmed"
)

const (
	ForfeitReason  = "Life-line points exhausted"
	ForfeitMessage = "User ran out of life-line points. Compensation is now available."
)

// ErrClientExists is returned when a stream client id is already connected.
var ErrClientExists = errors.New("stream client id already connected")

// Notifier delivers an event to one participant. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, participant string, event Event, payload any) error
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, participant string, event Event, payload any) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, participant, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RoundPayload accompanies round timer events.
type RoundPayload struct {
	SessionID uuid.UUID  `json:"sessionId"`
	StartedBy string     `json:"startedBy,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// DepositPayload accompanies deposit:recorded.
type DepositPayload struct {
	SessionID     uuid.UUID `json:"sessionId"`
	Participant   string    `json:"participant"`
	BothDeposited bool      `json:"bothDeposited"`
}

// EndedPayload accompanies session:ended and the expiry events.
type EndedPayload struct {
	SessionID   uuid.UUID `json:"sessionId"`
	Reason      string    `json:"reason"`
	Beneficiary *string   `json:"beneficiary,omitempty"`
	Winner      *string   `json:"winner,omitempty"`
}

// LifelinePayload accompanies lifeline:update.
type LifelinePayload struct {
	SessionID       uuid.UUID      `json:"sessionId"`
	Offender        string         `json:"offender"`
	RemainingPoints int            `json:"remainingPoints"`
	PointsDeducted  int            `json:"pointsDeducted"`
	Reason          string         `json:"reason"`
	Points          map[string]int `json:"points"`
}

// ForfeitPayload accompanies session:forfeited.
type ForfeitPayload struct {
	SessionID uuid.UUID `json:"sessionId"`
	Loser     string    `json:"loser"`
	Winner    string    `json:"winner"`
	Reason    string    `json:"reason"`
	Message   string    `json:"message"`
}

// SettledPayload accompanies settlement:confirmed.
type SettledPayload struct {
	SessionID uuid.UUID `json:"sessionId"`
	Action    string    `json:"action"`
	TxHash    string    `json:"txHash"`
}

// Client is an open SSE or WebSocket connection of one participant.
type Client struct {
	ClientID    string
	Participant string
	ConnectedAt time.Time
	MessageChan chan *Message
}

// NewClient creates a new stream client
func NewClient(clientID, participant string) *Client {
	return &Client{
		ClientID:    clientID,
		Participant: participant,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *Message, 100),
	}
}

// Close closes the client's message channel
func (c *Client) Close() {
	close(c.MessageChan)
}

// Message is a single event frame on a stream.
type Message struct {
	ID        string          `json:"id"`
	Event     Event           `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a new stream message
func NewMessage(event Event, data json.RawMessage) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Encode builds a stream message from an arbitrary payload.
func Encode(event Event, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return NewMessage(event, data), nil
}
