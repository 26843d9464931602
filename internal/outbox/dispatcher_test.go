package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/postengine/internal/errs"
	"github.com/web3guy0/postengine/internal/store"
	"github.com/web3guy0/postengine/types"
)

type fakePublisher struct {
	published []string
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, key string, _ []byte) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, key)
	return nil
}

type fakeGateway struct {
	sent []types.SettlementInstruction
	err  error
}

func (f *fakeGateway) Send(_ context.Context, instr types.SettlementInstruction) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, instr)
	return nil
}

func TestDrainOncePublishSuccessMarksDone(t *testing.T) {
	m := store.NewMemoryStore()
	pub := &fakePublisher{}
	gw := &fakeGateway{}
	d := New(m, pub, gw, time.Second)

	require.NoError(t, m.EnqueueOutboxDirect(store.OutboxKindPublish, "trade.events", "evt-1", []byte(`{}`)))

	require.NoError(t, d.DrainOnce(context.Background()))

	assert.Equal(t, []string{"evt-1"}, pub.published)
	entries, err := m.PendingOutbox(0)
	require.NoError(t, err)
	assert.Empty(t, entries, "a successfully delivered entry must be marked done and drop out of PendingOutbox")
}

func TestDrainOnceGatewaySuccessEnqueuesSettlementSent(t *testing.T) {
	m := store.NewMemoryStore()
	pub := &fakePublisher{}
	gw := &fakeGateway{}
	d := New(m, pub, gw, time.Second)

	instr := types.SettlementInstruction{SettleID: "settle-1", AllocID: "alloc-1"}
	payload, err := json.Marshal(instr)
	require.NoError(t, err)
	require.NoError(t, m.EnqueueOutboxDirect(store.OutboxKindGateway, "", instr.SettleID, payload))

	require.NoError(t, d.DrainOnce(context.Background()))

	require.Len(t, gw.sent, 1)
	assert.Equal(t, "settle-1", gw.sent[0].SettleID)

	entries, err := m.PendingOutbox(0)
	require.NoError(t, err)
	require.Len(t, entries, 1, "a successful gateway send must enqueue a new SettlementSent publish entry")
	assert.Equal(t, store.OutboxKindPublish, entries[0].Kind)
	assert.Equal(t, "settle-1", entries[0].Key)
}

func TestDrainOnceTerminalGatewayErrorMarksDoneWithoutRetry(t *testing.T) {
	m := store.NewMemoryStore()
	pub := &fakePublisher{}
	gw := &fakeGateway{err: errs.Terminal(assertError("gateway rejected request"))}
	d := New(m, pub, gw, time.Second)

	instr := types.SettlementInstruction{SettleID: "settle-2", AllocID: "alloc-2"}
	payload, err := json.Marshal(instr)
	require.NoError(t, err)
	require.NoError(t, m.EnqueueOutboxDirect(store.OutboxKindGateway, "", instr.SettleID, payload))

	require.NoError(t, d.DrainOnce(context.Background()))

	entries, err := m.PendingOutbox(0)
	require.NoError(t, err)
	assert.Empty(t, entries, "a terminal gateway error must be dropped, not retried forever")

	dead := m.DeadLetters()
	require.Len(t, dead, 1, "a terminal gateway error must leave a dead-letter record for operator intervention")
	assert.Equal(t, "settlement", dead[0].Kind)
	assert.Equal(t, "settle-2", dead[0].RefID)
	assert.Contains(t, dead[0].Reason, "gateway rejected request")
}

func TestDrainOnceTransientErrorBumpsAttempts(t *testing.T) {
	m := store.NewMemoryStore()
	pub := &fakePublisher{err: assertError("broker unavailable")}
	gw := &fakeGateway{}
	d := New(m, pub, gw, time.Second)

	require.NoError(t, m.EnqueueOutboxDirect(store.OutboxKindPublish, "trade.events", "evt-2", []byte(`{}`)))

	require.NoError(t, d.DrainOnce(context.Background()))

	entries, err := m.PendingOutbox(0)
	require.NoError(t, err)
	require.Len(t, entries, 1, "a transient publish failure must stay pending for the next drain")
	assert.Equal(t, 1, entries[0].Attempts)
}

type assertError string

func (e assertError) Error() string { return string(e) }
