package notify

import (
	"context"
	"fmt"

	slacklib "github.com/slack-go/slack"
)

// SlackAPI is the subset of the Slack client the sender uses.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slacklib.MsgOption) (string, string, error)
}

type SlackSender struct {
	api SlackAPI
}

var _ Sender = (*SlackSender)(nil)

func NewSlackSender(api SlackAPI) *SlackSender {
	return &SlackSender{api: api}
}

// NewSlackSenderFromToken builds a sender backed by the Slack web API.
func NewSlackSenderFromToken(token string) *SlackSender {
	return NewSlackSender(slacklib.New(token))
}

func (s *SlackSender) SendAlert(ctx context.Context, channel string, a Alert) error {
	_, _, err := s.api.PostMessageContext(ctx, channel,
		slacklib.MsgOptionText(a.Title+": "+a.Text, false),
		slacklib.MsgOptionBlocks(BuildAlertBlocks(a)...),
	)
	if err != nil {
		return fmt.Errorf("notify.SlackSender.SendAlert: %w", err)
	}
	return nil
}

func (s *SlackSender) Platform() string { return "slack" }

// BuildAlertBlocks lays an alert out as a header, a text section and a
// section of fields.
func BuildAlertBlocks(a Alert) []slacklib.Block {
	blocks := []slacklib.Block{
		slacklib.NewHeaderBlock(slacklib.NewTextBlockObject(slacklib.PlainTextType, a.Title, false, false)),
		slacklib.NewSectionBlock(
			slacklib.NewTextBlockObject(slacklib.MarkdownType, a.Text, false, false),
			nil,
			nil,
		),
	}
	if len(a.Fields) == 0 {
		return blocks
	}
	fields := make([]*slacklib.TextBlockObject, 0, len(a.Fields))
	for _, f := range a.Fields {
		fields = append(fields, slacklib.NewTextBlockObject(slacklib.MarkdownType, fmt.Sprintf("*%s*\n%s", f.Name, f.Value), false, false))
	}
	return append(blocks, slacklib.NewSectionBlock(nil, fields, nil))
}
