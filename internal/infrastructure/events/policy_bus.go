package events

import (
	"context"
	"fmt"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
)

// TopicPolicyChanged carries a policy.ChangeEvent.
const TopicPolicyChanged = "policy:changed"

// PolicyBus is the control plane's in-process fan-out of committed policy changes.
// Writers never wait on subscribers.
type PolicyBus struct {
	bus    evbus.Bus
	logger *logrus.Logger
}

func NewPolicyBus(logger *logrus.Logger) *PolicyBus {
	return &PolicyBus{bus: evbus.New(), logger: logger}
}

// PolicyChanged implements ports.PolicyEventPublisher.
func (b *PolicyBus) PolicyChanged(evt policy.ChangeEvent) {
	b.bus.Publish(TopicPolicyChanged, evt)
}

// Subscribe registers handler asynchronously. Events for one subscriber are
// delivered in publish order.
func (b *PolicyBus) Subscribe(handler func(policy.ChangeEvent)) error {
	if err := b.bus.SubscribeAsync(TopicPolicyChanged, handler, true); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", TopicPolicyChanged, err)
	}
	return nil
}

// Wait blocks until every in-flight handler has returned.
func (b *PolicyBus) Wait() {
	b.bus.WaitAsync()
}

// Propagator pushes each committed policy to the data planes and publishes it on
// the shared channel. Failures are logged; reconciliation repairs them.
type Propagator struct {
	pusher    ports.PolicyPusher
	publisher ports.PolicyPublisher
	timeout   time.Duration
	logger    *logrus.Logger
}

func NewPropagator(pusher ports.PolicyPusher, publisher ports.PolicyPublisher, timeout time.Duration, logger *logrus.Logger) *Propagator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Propagator{pusher: pusher, publisher: publisher, timeout: timeout, logger: logger}
}

// Attach subscribes the propagator to bus.
func (p *Propagator) Attach(bus *PolicyBus) error {
	return bus.Subscribe(p.Handle)
}

// Handle delivers one change event.
func (p *Propagator) Handle(evt policy.ChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	pol := evt.Policy
	fields := logrus.Fields{"tenant_id": pol.TenantID, "version": pol.Version, "change": evt.Kind}
	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, &pol); err != nil && p.logger != nil {
			p.logger.WithFields(fields).WithError(err).Warn("failed to publish policy change")
		}
	}
	if p.pusher != nil {
		if err := p.pusher.Push(ctx, &pol); err != nil {
			if p.logger != nil {
				p.logger.WithFields(fields).WithError(err).Warn("policy push incomplete; reconciliation will retry")
			}
			return
		}
	}
	if p.logger != nil {
		p.logger.WithFields(fields).Debug("policy change propagated")
	}
}
