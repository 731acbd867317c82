package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifySubject(t *testing.T) {
	assert.Equal(t, "stake.notify.0xabcdef", NotifySubject("0xABCDEF"))
}

func TestDecodeAccepted(t *testing.T) {
	id, err := DecodeAccepted([]byte(`{"message_id":"m-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "m-1", id)

	_, err = DecodeAccepted([]byte(`{"message_id":"  "}`))
	assert.ErrorIs(t, err, ErrEmptyMessageID)

	_, err = DecodeAccepted([]byte(`not json`))
	assert.Error(t, err)
}
