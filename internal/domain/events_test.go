package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeEvent(t *testing.T) {
	order, events, err := NewOrder("buyer-1", []LineItem{{BookID: "A", Quantity: 2, UnitPrice: 10}})
	require.NoError(t, err)

	payload, err := EncodeEvent(events[0], 1)
	require.NoError(t, err)

	decoded, seq, err := DecodeEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
	assert.Equal(t, EventOrderPlaced, decoded.EventType())
	assert.Equal(t, order.ID, decoded.AggregateID())

	placed, ok := decoded.(OrderPlaced)
	require.True(t, ok)
	assert.Equal(t, 20.00, placed.TotalPrice)
	assert.Equal(t, StatusNew, placed.Status)
}

func TestDecodeEventUnknownType(t *testing.T) {
	_, _, err := DecodeEvent([]byte(`{"event_type":"OrderShipped","order_id":"` + uuid.NewString() + `"}`))
	require.ErrorIs(t, err, ErrUnknownEventType)
}

func TestDecodeEventMalformedPayload(t *testing.T) {
	_, _, err := DecodeEvent([]byte(`{"event_type":`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownEventType)
}
