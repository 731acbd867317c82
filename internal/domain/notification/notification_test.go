package notification_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/OrsiniBr/DoTrust/internal/domain/notification"
	"github.com/OrsiniBr/DoTrust/internal/domain/notification/mocks"
)

func TestNewClient(t *testing.T) {
	client := notification.NewClient("client-1", "0xabc")

	require.NotNil(t, client)
	assert.Equal(t, "client-1", client.ClientID)
	assert.Equal(t, "0xabc", client.Participant)
	assert.False(t, client.ConnectedAt.IsZero())
	assert.Equal(t, 100, cap(client.MessageChan))

	client.Close()
	_, ok := <-client.MessageChan
	assert.False(t, ok)
}

func TestEncode(t *testing.T) {
	sessionID := uuid.New()
	msg, err := notification.Encode(notification.EventSessionForfeited, notification.ForfeitPayload{
		SessionID: sessionID,
		Loser:     "0xaaa",
		Winner:    "0xbbb",
		Reason:    notification.ForfeitReason,
		Message:   notification.ForfeitMessage,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, notification.EventSessionForfeited, msg.Event)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, sessionID.String(), decoded["sessionId"])
	assert.Equal(t, "Life-line points exhausted", decoded["reason"])
}

func TestFanout_Notify(t *testing.T) {
	t.Run("delivers to all", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		a := mocks.NewMockNotifier(ctrl)
		b := mocks.NewMockNotifier(ctrl)
		ctx := context.Background()

		a.EXPECT().Notify(ctx, "0xabc", notification.EventRoundStarted, gomock.Any()).Return(nil)
		b.EXPECT().Notify(ctx, "0xabc", notification.EventRoundStarted, gomock.Any()).Return(nil)

		err := notification.Fanout{a, nil, b}.Notify(ctx, "0xabc", notification.EventRoundStarted, notification.RoundPayload{})
		assert.NoError(t, err)
	})

	t.Run("keeps going after a failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		a := mocks.NewMockNotifier(ctrl)
		b := mocks.NewMockNotifier(ctrl)
		ctx := context.Background()
		boom := errors.New("nats down")

		a.EXPECT().Notify(ctx, "0xabc", notification.EventSessionEnded, gomock.Any()).Return(boom)
		b.EXPECT().Notify(ctx, "0xabc", notification.EventSessionEnded, gomock.Any()).Return(nil)

		err := notification.Fanout{a, b}.Notify(ctx, "0xabc", notification.EventSessionEnded, nil)
		assert.ErrorIs(t, err, boom)
	})
}
