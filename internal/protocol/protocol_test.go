package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	raw, err := Encode(EventRangeAssignment, RangeAssignment{Start: 10, End: 20})
	require.NoError(t, err)

	frame, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, EventRangeAssignment, frame.Event)

	var payload RangeAssignment
	require.NoError(t, json.Unmarshal(frame.Message, &payload))
	assert.Equal(t, uint64(10), payload.Start)
	assert.Equal(t, uint64(20), payload.End)
}

func TestRangeAssignmentCarriesFullNonceSpaceBoundary(t *testing.T) {
	raw, err := Encode(EventRangeAssignment, RangeAssignment{Start: 2863311530, End: 1 << 32})
	require.NoError(t, err)

	frame, err := Decode(raw)
	require.NoError(t, err)

	var payload RangeAssignment
	require.NoError(t, json.Unmarshal(frame.Message, &payload))
	assert.Equal(t, uint64(1)<<32, payload.End, "2^32 must survive the round trip without wrapping")
}

func TestDecodeMalformedFrame(t *testing.T) {
	_, err := Decode([]byte(`{"event": "ping", "message": `))
	assert.Error(t, err)
}

func TestDecodeUnknownEventStillParses(t *testing.T) {
	frame, err := Decode([]byte(`{"event": "iteration_completed", "message": 3}`))
	require.NoError(t, err)
	assert.Equal(t, EventIterationDone, frame.Event)
}
