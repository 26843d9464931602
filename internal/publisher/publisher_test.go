package publisher

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWrapsPayloadInEnvelope(t *testing.T) {
	payload := ExecutionReceivedPayload{ExecID: "X1", OrderID: "O1", Qty: "100", Price: "10.00", Venue: "XNYS"}
	raw, err := Encode(EventExecutionReceived, payload)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, EventExecutionReceived, env.EventType)
	assert.Equal(t, "v1", env.SchemaVersion)

	var decoded ExecutionReceivedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	assert.Equal(t, payload, decoded)
}

func TestEncodeDistinctEventTypesRoundTrip(t *testing.T) {
	cases := []struct {
		eventType EventType
		payload   any
	}{
		{EventBlockReady, BlockReadyPayload{BlockID: "B1", GrossQty: "100", AvgPrice: "10.00"}},
		{EventAllocationCreated, AllocationCreatedPayload{AllocID: "AL1", BlockID: "B1", AccountID: "A1", AllocQty: "100"}},
		{EventSettlementSent, SettlementSentPayload{SettleID: "S1", AllocID: "AL1"}},
	}
	for _, c := range cases {
		raw, err := Encode(c.eventType, c.payload)
		require.NoError(t, err)
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, c.eventType, env.EventType)
	}
}
