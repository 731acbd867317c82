package httpapi

import (
	"context"
)

type authContextKey string

const participantKey authContextKey = "participant"

func withParticipant(ctx context.Context, participant string) context.Context {
	if participant == "" {
		return ctx
	}
	return context.WithValue(ctx, participantKey, participant)
}

// participantFromContext returns the normalized address set by requireParticipant.
func participantFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(participantKey).(string); ok {
		return v
	}
	return ""
}
