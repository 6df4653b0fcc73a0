package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/patrickwarner/adselect/internal/models"
)

// DefaultChannel carries deactivation triggers from budget and scheduling
// services.
const DefaultChannel = "campaign-lifecycle"

// Trigger is the pub/sub payload requesting a deactivation.
type Trigger struct {
	CampaignID models.CampaignID `json:"campaign_id"`
	Reason     string            `json:"reason,omitempty"`
}

// Publish sends a deactivation trigger on the channel.
func Publish(ctx context.Context, client redis.UniversalClient, channel string, t Trigger) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	if err := client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish trigger: %w", err)
	}
	return nil
}

// Listen subscribes to the channel and deactivates every campaign it is told
// about, one at a time, until ctx is cancelled. Malformed messages are logged
// and skipped.
func (m *Manager) Listen(ctx context.Context, client redis.UniversalClient, channel string) error {
	if channel == "" {
		channel = DefaultChannel
	}
	sub := client.Subscribe(ctx, channel)
	defer func() {
		_ = sub.Close()
	}()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	m.logger.Info("listening for campaign lifecycle triggers", zap.String("channel", channel))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			m.handle(ctx, msg.Payload)
		}
	}
}

func (m *Manager) handle(ctx context.Context, payload string) {
	var t Trigger
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		m.logger.Warn("ignoring malformed lifecycle trigger", zap.String("payload", payload), zap.Error(err))
		return
	}
	m.logger.Info("lifecycle trigger received",
		zap.String("campaign_id", t.CampaignID.String()),
		zap.String("reason", t.Reason))
	// failures are logged by DeactivateCampaign; the next trigger retries
	_, _ = m.DeactivateCampaign(ctx, t.CampaignID)
}
