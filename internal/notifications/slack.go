package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"

	"github.com/Harvey-AU/huntsman/internal/crawler"
)

// maxErrorLines caps how many failed URLs a report message lists.
const maxErrorLines = 3

// CrawlReport is the payload delivered to notification channels when a crawl
// finishes.
type CrawlReport struct {
	BaseURL      string
	RunID        string
	Duration     time.Duration
	Summary      crawler.Summary
	Technologies []string
	NewPages     int
	RemovedPages int
	ChangedPages int
	Errors       []crawler.ErrorRecord
}

// DeliveryChannel delivers a finished crawl's report somewhere.
type DeliveryChannel interface {
	Name() string
	Deliver(ctx context.Context, report *CrawlReport) error
}

// Service fans a crawl report out to the configured channels.
type Service struct {
	channels []DeliveryChannel
}

// NewService creates a notification service with no channels attached.
func NewService() *Service {
	return &Service{}
}

// AddChannel adds a delivery channel to the service.
func (s *Service) AddChannel(ch DeliveryChannel) {
	s.channels = append(s.channels, ch)
}

// Notify delivers the report to every channel concurrently. Channels are
// independent: one failing or slow delivery never blocks another, and a
// notification problem never fails a crawl.
func (s *Service) Notify(ctx context.Context, report *CrawlReport) {
	var g errgroup.Group
	for _, ch := range s.channels {
		ch := ch
		g.Go(func() error {
			if err := ch.Deliver(ctx, report); err != nil {
				log.Warn().
					Err(err).
					Str("channel", ch.Name()).
					Str("run_id", report.RunID).
					Msg("Failed to deliver crawl report")
				return fmt.Errorf("deliver to %s: %w", ch.Name(), err)
			}
			log.Info().
				Str("channel", ch.Name()).
				Str("run_id", report.RunID).
				Msg("Crawl report delivered")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Already logged per channel; captured here so delivery problems
		// show up in Sentry alongside crawl failures
		sentry.CaptureException(err)
	}
}

// SlackWebhook implements the DeliveryChannel interface for a Slack incoming
// webhook.
type SlackWebhook struct {
	webhookURL string
}

// NewSlackWebhook creates a Slack delivery channel for the given webhook URL.
func NewSlackWebhook(webhookURL string) (*SlackWebhook, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("notifications: webhook URL is required")
	}
	return &SlackWebhook{webhookURL: webhookURL}, nil
}

// Name returns the channel name
func (c *SlackWebhook) Name() string {
	return "slack"
}

// Deliver posts the crawl report to the webhook as a Block Kit message.
func (c *SlackWebhook) Deliver(ctx context.Context, report *CrawlReport) error {
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("Crawl of %s complete: %d pages, %d errors",
			report.BaseURL, report.Summary.Total, report.Summary.Errors),
		Blocks: &slack.Blocks{BlockSet: buildReportBlocks(report)},
	}

	if err := slack.PostWebhookContext(ctx, c.webhookURL, msg); err != nil {
		return fmt.Errorf("failed to post Slack webhook: %w", err)
	}
	return nil
}

func buildReportBlocks(report *CrawlReport) []slack.Block {
	emoji := ":white_check_mark:"
	if report.Summary.Errors > 0 {
		emoji = ":warning:"
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("%s *Crawl complete: %s*", emoji, report.BaseURL),
				false,
				false,
			),
			nil,
			nil,
		),
	}

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Pages:* %d", report.Summary.Total), false, false),
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Accessible:* %d", report.Summary.Successful), false, false),
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Errors:* %d", report.Summary.Errors), false, false),
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Success rate:* %.1f%%", report.Summary.Performance.SuccessRate), false, false),
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Avg load time:* %.0fms", report.Summary.Performance.AverageLoadTime), false, false),
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Duration:* %s", formatDuration(report.Duration)), false, false),
	}
	blocks = append(blocks, slack.NewSectionBlock(nil, fields, nil))

	if len(report.Technologies) > 0 {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("*Stack:* %s", strings.Join(report.Technologies, ", ")),
				false,
				false,
			),
			nil,
			nil,
		))
	}

	if report.NewPages > 0 || report.RemovedPages > 0 || report.ChangedPages > 0 {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("*Since last crawl:* %d new, %d removed, %d changed",
					report.NewPages, report.RemovedPages, report.ChangedPages),
				false,
				false,
			),
			nil,
			nil,
		))
	}

	if len(report.Errors) > 0 {
		var lines []string
		for i, rec := range report.Errors {
			if i == maxErrorLines {
				lines = append(lines, fmt.Sprintf("and %d more", len(report.Errors)-maxErrorLines))
				break
			}
			lines = append(lines, fmt.Sprintf("• %s: %s", rec.URL, rec.Error))
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", strings.Join(lines, "\n"), false, false),
			nil,
			nil,
		))
	}

	return blocks
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "N/A"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
