package alerts

import (
	"context"
	"fmt"
	"net/http"

	"github.com/econeura/usage-guardian/pkg/model"
)

// SlackNotifier posts alerts to a Slack incoming webhook as one attachment each.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackNotifier creates a Slack webhook notifier. An empty channel uses
// the webhook's default.
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client:     newHTTPClient(),
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Send(ctx context.Context, alert model.Alert) error {
	if err := postJSON(ctx, s.client, s.webhookURL, slackMessage(s.channel, alert), nil); err != nil {
		return fmt.Errorf("send slack alert: %w", err)
	}
	return nil
}

func slackMessage(channel string, alert model.Alert) slackPayload {
	fields := []slackField{
		{Title: "Tenant", Value: alert.TenantID, Short: true},
		{Title: "Severity", Value: string(alert.Severity), Short: true},
	}
	if alert.HardLimit > 0 {
		fields = append(fields,
			slackField{Title: "Usage", Value: fmt.Sprintf("%.2f / %.2f", alert.Value, alert.HardLimit), Short: true},
			slackField{Title: "Fraction", Value: fmt.Sprintf("%.1f%%", alert.TriggeredAtFraction*100), Short: true},
		)
	}
	fields = append(fields, slackField{Title: "Alert ID", Value: alert.ID})

	return slackPayload{
		Channel: channel,
		Attachments: []slackAttachment{{
			Color:  severityColor(alert.Severity),
			Title:  slackTitle(alert),
			Text:   alert.Message,
			Fields: fields,
			Footer: "Usage Guardian",
			Ts:     alert.Timestamp.Unix(),
		}},
	}
}

func slackTitle(alert model.Alert) string {
	if alert.Tier == model.TierRestrictiveActivated {
		return fmt.Sprintf("Restrictive mode activated for %s", alert.TenantID)
	}
	return fmt.Sprintf("%s reached %s", alert.TenantID, alert.Tier)
}

func severityColor(s model.Severity) string {
	switch s {
	case model.SeverityMedium:
		return "#ff9900" // orange
	case model.SeverityHigh:
		return "#ff0000" // red
	case model.SeverityCritical:
		return "#cc0000" // dark red
	default:
		return "#36a64f" // green
	}
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}
