package modelsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeEventRoundTrip(t *testing.T) {
	ce, err := EncodeEvent("contact-channel", Event{MutationID: "m1", Name: "update", Data: map[string]any{"foo": "bar"}})
	require.NoError(t, err)
	assert.Equal(t, "m1", ce.ID())
	assert.Equal(t, "contact-channel", ce.Source())
	assert.Equal(t, "update", ce.Type())

	decoded, err := DecodeEvent(ce)
	require.NoError(t, err)
	assert.Equal(t, "m1", decoded.MutationID)
	assert.Equal(t, "update", decoded.Name)
	assert.Equal(t, map[string]any{"foo": "bar"}, decoded.Data)
}

func TestEncodeEventGeneratesMutationIDWhenMissing(t *testing.T) {
	ce, err := EncodeEvent("contact-channel", Event{Name: "update"})
	require.NoError(t, err)
	assert.NotEmpty(t, ce.ID())

	decoded, err := DecodeEvent(ce)
	require.NoError(t, err)
	assert.Equal(t, ce.ID(), decoded.MutationID)
}

func TestEncodeDecodeConfirmedEventRoundTrip(t *testing.T) {
	confirmed := ConfirmedEvent{
		Event:      Event{MutationID: "m1", Name: "update", Data: map[string]any{"foo": "bar"}},
		SequenceID: "42",
		Rejected:   true,
	}

	ce, err := EncodeConfirmedEvent("contact-channel", confirmed)
	require.NoError(t, err)

	decoded, err := DecodeConfirmedEvent(ce)
	require.NoError(t, err)
	assert.Equal(t, confirmed.MutationID, decoded.MutationID)
	assert.Equal(t, confirmed.SequenceID, decoded.SequenceID)
	assert.True(t, decoded.Rejected)
}

func TestDecodeConfirmedEventRequiresSequenceID(t *testing.T) {
	ce, err := EncodeEvent("contact-channel", Event{MutationID: "m1", Name: "update"})
	require.NoError(t, err)

	_, err = DecodeConfirmedEvent(ce)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
