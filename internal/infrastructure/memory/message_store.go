package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/OrsiniBr/DoTrust/internal/domain/message"
	"github.com/OrsiniBr/DoTrust/internal/domain/moderation"
)

// MessageStore implements message.Store in memory.
type MessageStore struct {
	mu       sync.RWMutex
	messages map[string]*message.Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{messages: make(map[string]*message.Message)}
}

// Put stores a message as accepted.
func (s *MessageStore) Put(m *message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *m
	s.messages[m.MessageID] = &c
}

func (s *MessageStore) Get(ctx context.Context, messageID string) (*message.Message, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, nil
	}
	c := *m
	return &c, nil
}

func (s *MessageStore) IsAccepted(ctx context.Context, messageID string) (bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.messages[messageID]
	return ok, nil
}

func (s *MessageStore) ListBefore(ctx context.Context, a, b string, before time.Time, limit int) ([]*message.Message, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*message.Message
	for _, m := range s.messages {
		between := (strings.EqualFold(m.SenderID, a) && strings.EqualFold(m.ReceiverID, b)) ||
			(strings.EqualFold(m.SenderID, b) && strings.EqualFold(m.ReceiverID, a))
		if between && m.CreatedAt.Before(before) {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MessageStore) SaveAnalysis(ctx context.Context, messageID string, verdict *moderation.Verdict, deduction int, penaltyApplied bool) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil
	}
	m.Analysis = verdict
	m.LifeLineDeduction = deduction
	m.PenaltyApplied = penaltyApplied
	return nil
}
