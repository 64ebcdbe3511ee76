// Package notify alerts operators when a policy leaves the active state.
package notify

import (
	"context"
	"fmt"

	"github.com/gosuda/tether/internal/events"
)

// Sender posts an alert to a channel on some chat platform.
type Sender interface {
	SendAlert(ctx context.Context, channel string, a Alert) error
	Platform() string
}

// Alert is a rendered revocation notice.
type Alert struct {
	Title  string
	Text   string
	Fields []Field
}

type Field struct {
	Name  string
	Value string
}

// Notifier turns revocation events into alerts. Every other event type is
// ignored, so it can sit in an events.Multi next to the broker publisher.
type Notifier struct {
	sender  Sender
	channel string
}

var _ events.Publisher = (*Notifier)(nil)

func New(sender Sender, channel string) *Notifier {
	return &Notifier{sender: sender, channel: channel}
}

func (n *Notifier) Publish(ctx context.Context, e events.Event) error {
	if e.Type != events.TypeRevoked {
		return nil
	}
	if err := n.sender.SendAlert(ctx, n.channel, RevocationAlert(e)); err != nil {
		return fmt.Errorf("notify.Notifier.Publish: %s: %w", n.sender.Platform(), err)
	}
	return nil
}

// RevocationAlert renders a revocation event.
func RevocationAlert(e events.Event) Alert {
	a := Alert{
		Title: fmt.Sprintf("Policy %s", e.PolicyStatus),
		Text:  fmt.Sprintf("Policy `%s` moved to *%s* at version %d.", e.PolicyID, e.PolicyStatus, e.PolicyVersion),
		Fields: []Field{
			{Name: "Keys revoked", Value: fmt.Sprint(e.KeysRevoked)},
			{Name: "Agents revoked", Value: fmt.Sprint(e.AgentsRevoked)},
		},
	}
	if e.Reason != "" {
		a.Fields = append(a.Fields, Field{Name: "Reason", Value: e.Reason})
	}
	if e.ExecutionID != nil {
		a.Fields = append(a.Fields, Field{Name: "Execution", Value: e.ExecutionID.String()})
	}
	return a
}
