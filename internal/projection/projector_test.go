package projection

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/example/ec-ordering/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestProjector() (*Projector, *OrderApplier, *observer.ObservedLogs) {
	a, _ := newTestApplier()
	core, logs := observer.New(zap.DebugLevel)
	return NewProjector(a, zap.New(core)), a, logs
}

func body(t *testing.T, env messaging.Envelope) []byte {
	t.Helper()
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return b
}

func TestProjector_HandleMessage_AppliesThenAbsorbsDuplicate(t *testing.T) {
	p, _, logs := newTestProjector()
	created, _, _ := orderHistory(t, 0)
	msg := body(t, envelopeOf(t, created))

	require.NoError(t, p.HandleMessage(context.Background(), msg))
	require.NoError(t, p.HandleMessage(context.Background(), msg))

	assert.Equal(t, 1, logs.FilterMessage("event applied").Len())
	assert.Equal(t, 1, logs.FilterMessage("event already applied").Len())
}

func TestProjector_HandleMessage_UndecodableIsPoison(t *testing.T) {
	p, _, logs := newTestProjector()

	err := p.HandleMessage(context.Background(), []byte(`not json`))

	assert.True(t, messaging.IsPoison(err))
	assert.Equal(t, 1, logs.FilterMessage("undecodable envelope").Len())
}

func TestProjector_HandleMessage_InvalidPayloadIsPoison(t *testing.T) {
	p, _, logs := newTestProjector()
	created, _, _ := orderHistory(t, 0)
	created.OrderName = "x"

	err := p.HandleMessage(context.Background(), body(t, envelopeOf(t, created)))

	assert.True(t, messaging.IsPoison(err))
	entries := logs.FilterMessage("poison message").All()
	require.Len(t, entries, 1)
	assert.Equal(t, created.OrderID, entries[0].ContextMap()["subject"])
}

func TestProjector_HandleMessage_TransientErrorIsRetryable(t *testing.T) {
	p, _, _ := newTestProjector()
	created, _, _ := orderHistory(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.HandleMessage(ctx, body(t, envelopeOf(t, created)))

	require.Error(t, err)
	assert.False(t, messaging.IsPoison(err))
}
