package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
)

// PolicyPublisher broadcasts committed policies on a pub/sub channel. Delivery is
// at-most-once; the pull path and reconciliation cover anything lost.
type PolicyPublisher struct {
	r       redis.Cmdable
	channel string
	logger  *logrus.Logger
}

func NewPolicyPublisher(r redis.Cmdable, channel string, logger *logrus.Logger) *PolicyPublisher {
	return &PolicyPublisher{r: r, channel: channel, logger: logger}
}

// Publish implements ports.PolicyPublisher.
func (p *PolicyPublisher) Publish(ctx context.Context, pol *policy.Policy) error {
	b, err := json.Marshal(pol)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}
	receivers, err := p.r.Publish(ctx, p.channel, b).Result()
	if err != nil {
		return fmt.Errorf("failed to publish policy: %w", err)
	}
	if p.logger != nil {
		p.logger.WithFields(logrus.Fields{"tenant_id": pol.TenantID, "version": pol.Version, "channel": p.channel, "receivers": receivers}).Debug("policy published")
	}
	return nil
}

// PolicySubscriber feeds policies received on the channel into the data plane's
// policy ingress.
type PolicySubscriber struct {
	client  *redis.Client
	channel string
	updater ports.PolicyUpdater
	logger  *logrus.Logger
}

func NewPolicySubscriber(client *redis.Client, channel string, updater ports.PolicyUpdater, logger *logrus.Logger) *PolicySubscriber {
	return &PolicySubscriber{client: client, channel: channel, updater: updater, logger: logger}
}

// Run subscribes and applies messages until ctx is cancelled. Malformed messages
// are logged and skipped.
func (s *PolicySubscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	// wait for the subscription confirmation so a broken connection surfaces here
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"channel": s.channel}).Info("policy channel subscribed")
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *PolicySubscriber) handle(ctx context.Context, payload string) {
	var p policy.Policy
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"channel": s.channel}).WithError(err).Warn("discarding malformed policy message")
		}
		return
	}
	if err := s.updater.UpdateConfig(ctx, p, ports.SourceBus); err != nil && s.logger != nil {
		s.logger.WithFields(logrus.Fields{"channel": s.channel, "tenant_id": p.TenantID}).WithError(err).Warn("rejected policy from channel")
	}
}
