package poolcmd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckTranslatesErrors(t *testing.T) {
	assert.NoError(t, NewAck("a", nil).Err())

	ack := NewAck("b", errors.New("pool ledger terminated"))
	var ackErr *AckError
	require.ErrorAs(t, ack.Err(), &ackErr)
	assert.Equal(t, 0, ackErr.Code)
	assert.Equal(t, "pool ledger terminated", ackErr.Message)

	ack = NewAck("c", &AckError{Code: 307, Message: "timeout"})
	require.ErrorAs(t, ack.Err(), &ackErr)
	assert.Equal(t, 307, ackErr.Code)
	assert.Equal(t, "close failed (code 307): timeout", ackErr.Error())
}
