package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestListen_DeactivatesOnTrigger(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()
	seedZones(t, store)
	m := NewManager(store, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Listen(ctx, store.Client, "test-lifecycle") }()

	require.Eventually(t, func() bool {
		return len(ms.PubSubChannels("test-lifecycle")) == 1
	}, time.Second, 5*time.Millisecond)

	// malformed payloads are skipped without stopping the listener
	require.NoError(t, store.Client.Publish(context.Background(), "test-lifecycle", `{"campaign_id":"nosep"}`).Err())
	require.NoError(t, Publish(context.Background(), store.Client, "test-lifecycle", Trigger{CampaignID: bmw, Reason: "budget_exhausted"}))

	require.Eventually(t, func() bool {
		z, err := store.GetZone(context.Background(), "sports", "footer")
		return err == nil && z != nil && len(z.Entries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	zones, err := store.ZonesForCampaign(context.Background(), bmw)
	require.NoError(t, err)
	assert.Empty(t, zones)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestHandleTrigger(t *testing.T) {
	store := &flakyStore{}
	m := NewManager(store, zap.NewNop(), nil)
	ctx := context.Background()

	m.handle(ctx, "not json")
	m.handle(ctx, `{"campaign_id":"nosep"}`)
	m.handle(ctx, `{"reason":"schedule_end"}`)
	assert.Zero(t, store.calls)

	m.handle(ctx, `{"campaign_id":"bmw:c1","reason":"schedule_end"}`)
	assert.Equal(t, 1, store.calls)
}
