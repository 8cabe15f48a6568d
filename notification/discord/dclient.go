// File: notification/discord/dclient.go
package discord

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jsj9346/makenaide-sub002/pkg/executor"
	"github.com/jsj9346/makenaide-sub002/pkg/reconciler"
	"github.com/jsj9346/makenaide-sub002/utilities"
)

// Client sends notifications to a Discord webhook.
type Client struct {
	webhookURL string
	HTTPClient *http.Client
	logger     *utilities.Logger
}

// DiscordMessage represents the structure for a Discord webhook message.
// See: https://discord.com/developers/docs/resources/webhook#execute-webhook
type DiscordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

// DiscordEmbed represents an embed object in a Discord message.
type DiscordEmbed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"` // ISO8601 timestamp
	Color       int    `json:"color,omitempty"`     // Decimal color code
}

const (
	colorGreen  = 3066993
	colorRed    = 15158332
	colorBlue   = 3447003
	colorOrange = 15105570
)

func NewClient(webhookURL string) *Client {
	logLevel := utilities.Info
	if viper.GetBool("debug") {
		logLevel = utilities.Debug
	}

	logger := utilities.NewLogger(logLevel)

	if webhookURL == "" {
		logger.LogWarn("Discord Client: Webhook URL is empty. Notifications will not be sent.")
	} else {
		logger.LogInfo("Discord Client initialized with webhook URL.")
	}

	return &Client{
		webhookURL: webhookURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// SendMessage sends a simple text message to the configured Discord webhook.
func (c *Client) SendMessage(message string) error {
	if c.webhookURL == "" {
		c.logger.LogDebug("Discord SendMessage: Webhook URL is not set, skipping.")
		return nil
	}

	if strings.TrimSpace(message) == "" {
		c.logger.LogDebug("Discord SendMessage: Message is empty, skipping.")
		return nil
	}

	payload := DiscordMessage{
		Content: message,
	}
	return c.sendPayload(payload)
}

// SendEmbedMessage sends a message with one or more embeds.
func (c *Client) SendEmbedMessage(embeds ...DiscordEmbed) error {
	if c.webhookURL == "" {
		c.logger.LogDebug("Discord SendEmbedMessage: Webhook URL is not set, skipping.")
		return nil
	}
	if len(embeds) == 0 {
		c.logger.LogDebug("Discord SendEmbedMessage: No embeds provided, skipping.")
		return nil
	}
	payload := DiscordMessage{
		Embeds: embeds,
	}
	return c.sendPayload(payload)
}

// sendPayload is an internal helper to send the marshalled JSON payload.
func (c *Client) sendPayload(payload DiscordMessage) error {
	if c.webhookURL == "" {
		return fmt.Errorf("discord webhook URL not configured")
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		c.logger.LogError("Discord sendPayload: Failed to marshal JSON: %v", err)
		return fmt.Errorf("failed to marshal discord message: %w", err)
	}

	c.logger.LogDebug("Discord sendPayload: Sending to webhook. Payload size: %d bytes", len(payloadBytes))

	req, err := http.NewRequest("POST", c.webhookURL, bytes.NewBuffer(payloadBytes))
	if err != nil {
		c.logger.LogError("Discord sendPayload: Failed to create HTTP request: %v", err)
		return fmt.Errorf("failed to create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "MakenaideBot/1.0")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.logger.LogError("Discord sendPayload: Failed to send HTTP request: %v", err)
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.LogDebug("Discord sendPayload: Message sent successfully (Status: %s)", resp.Status)
		return nil
	}

	bodyBytes, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		c.logger.LogError("Discord sendPayload: Received non-OK status: %s. Failed to read body: %v", resp.Status, readErr)
		return fmt.Errorf("discord API error: %s, failed to read response body", resp.Status)
	}
	c.logger.LogError("Discord sendPayload: Received non-OK status: %s. Body: %s", resp.Status, string(bodyBytes))
	return fmt.Errorf("discord API error: %s, response: %s", resp.Status, string(bodyBytes))
}

// NotifyTradeResult sends a formatted notification for one executed order.
func (c *Client) NotifyTradeResult(res executor.TradeResult) error {
	if c.webhookURL == "" {
		c.logger.LogDebug("Discord NotifyTradeResult: Webhook URL is not set, skipping.")
		return nil
	}

	var title string
	var color int

	switch {
	case !res.Succeeded():
		title = fmt.Sprintf("⚠️ Order %s: %s", res.Status, res.Ticker)
		color = colorOrange
	case res.Side == executor.SideSell:
		title = fmt.Sprintf("💰 SELL %s: %s", res.Status, res.Ticker)
		color = colorRed
	default:
		title = fmt.Sprintf("✅ BUY %s: %s", res.Status, res.Ticker)
		color = colorGreen
	}
	if res.DryRun {
		title = "[DRY RUN] " + title
	}

	description := fmt.Sprintf(
		"**Ticker**: %s\n"+
			"**Avg. Fill Price**: `%.2f KRW`\n"+
			"**Filled Quantity**: `%.8f`\n"+
			"**Total Amount**: `%.0f KRW`\n"+
			"**Fee**: `%.2f KRW`\n"+
			"**Order ID**: `%s`\n"+
			"**Reason**: %s",
		res.Ticker,
		res.AvgPrice,
		res.FilledQuantity,
		res.FilledAmountKRW,
		res.Fee,
		res.OrderID,
		res.Reason,
	)

	embed := DiscordEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   res.ExecutedAt.Format(time.RFC3339),
	}
	return c.SendEmbedMessage(embed)
}

// NotifyIntervention reports a detected divergence between the exchange and
// the ledger, and whether it was auto-repaired.
func (c *Client) NotifyIntervention(m reconciler.Mismatch, repaired bool) error {
	if c.webhookURL == "" {
		return nil
	}

	status := "unresolved, manual review required"
	color := colorOrange
	if repaired {
		status = "auto-synced into the ledger"
		color = colorBlue
	}

	embed := DiscordEmbed{
		Title: fmt.Sprintf("🔎 Portfolio divergence: %s", m.Ticker),
		Description: fmt.Sprintf(
			"**Type**: %s\n**Detail**: %s\n**Estimated value**: `%.0f KRW`\n**Status**: %s",
			m.DetectionType, m.Description, m.EstimatedValue, status),
		Color:     color,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	return c.SendEmbedMessage(embed)
}

// NotifySessionSummary posts the end-of-session execution counters.
func (c *Client) NotifySessionSummary(stats executor.SessionStats, duration time.Duration) error {
	if c.webhookURL == "" {
		return nil
	}

	embed := DiscordEmbed{
		Title: "📊 Session Summary",
		Description: fmt.Sprintf(
			"**Attempted**: %d\n"+
				"**Fully Filled**: %d\n"+
				"**Partially Filled**: %d\n"+
				"**Partial then Cancelled**: %d\n"+
				"**Cancelled**: %d\n"+
				"**Failed**: %d\n"+
				"**Total Notional**: `%.0f KRW`\n"+
				"**Total Fees**: `%.2f KRW`\n"+
				"**Success Rate**: %.1f%%\n"+
				"**Avg Order Size**: `%.0f KRW`\n"+
				"**Duration**: %s",
			stats.Attempted, stats.FullFilled, stats.PartialFilled, stats.PartialCancelled,
			stats.Cancelled, stats.Failed, stats.TotalNotionalKRW, stats.TotalFeesKRW,
			stats.SuccessRate(), stats.AvgOrderSizeKRW(), duration.Round(time.Second)),
		Color:     colorBlue,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	return c.SendEmbedMessage(embed)
}
