// Package events publishes execution and revocation events after the engine
// commits them.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/domain"
)

// ExecutionsChannel carries every recorded execution.
const ExecutionsChannel = "executions"

// PolicyChannel carries the events of one policy.
func PolicyChannel(policyID uuid.UUID) string {
	return "policy:" + policyID.String()
}

type Type string

const (
	TypeExecution Type = "execution.recorded"
	TypeRevoked   Type = "policy.revoked"
)

type Event struct {
	Type          Type                   `json:"type"`
	ExecutionID   *uuid.UUID             `json:"executionId,omitempty"`
	PolicyID      uuid.UUID              `json:"policyId"`
	AgentID       *uuid.UUID             `json:"agentId,omitempty"`
	Result        domain.ExecutionResult `json:"result,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
	PolicyStatus  domain.PolicyStatus    `json:"policyStatus,omitempty"`
	PolicyVersion int                    `json:"policyVersion"`
	KeysRevoked   int                    `json:"keysRevoked,omitempty"`
	AgentsRevoked int                    `json:"agentsRevoked,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// Publisher delivers events somewhere outside the transaction.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Broker is a channel-addressed pub/sub transport.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// BrokerPublisher encodes events as JSON onto the executions channel and the
// policy's own channel.
type BrokerPublisher struct {
	broker Broker
}

func NewBrokerPublisher(b Broker) *BrokerPublisher {
	return &BrokerPublisher{broker: b}
}

func (p *BrokerPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events.BrokerPublisher.Publish: %w", err)
	}
	if err := p.broker.Publish(ctx, ExecutionsChannel, payload); err != nil {
		return fmt.Errorf("events.BrokerPublisher.Publish: %w", err)
	}
	if err := p.broker.Publish(ctx, PolicyChannel(e.PolicyID), payload); err != nil {
		return fmt.Errorf("events.BrokerPublisher.Publish: %w", err)
	}
	return nil
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

// Logged wraps p so that failures are logged instead of returned. Events are
// published after commit, so a failed delivery must not fail the request.
func Logged(p Publisher) Publisher {
	return loggedPublisher{p}
}

type loggedPublisher struct {
	next Publisher
}

func (l loggedPublisher) Publish(ctx context.Context, e Event) error {
	if err := l.next.Publish(ctx, e); err != nil {
		log.Warn().Err(err).Str("type", string(e.Type)).Str("policy_id", e.PolicyID.String()).Msg("event publish failed")
	}
	return nil
}
