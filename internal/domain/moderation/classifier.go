package moderation

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_classifier.go -package=mocks . Classifier

import "context"

// Classifier scores a message in the context of the conversation so far.
type Classifier interface {
	Classify(ctx context.Context, req Request) (*Verdict, error)
}
