package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pauljones0/story-monitor/internal/models"
)

const (
	colorQuietStory  = 3092790  // #2F3136
	colorWarmStory   = 16753920 // #FFA500
	colorHotStory    = 16711680 // #FF0000
	colorViralStory  = 16776960 // #FFFF00
	likeRatioWarm    = 0.05
	likeRatioHot     = 0.1
	likeRatioViral   = 0.25
	maxSendAttempts  = 3
	retryBaseDelay   = 250 * time.Millisecond
	maxRetryAfter    = 30 * time.Second
	webhookRateEvery = 2 * time.Second
)

// Notifier publishes a digest after an aggregation found new activity.
type Notifier interface {
	Notify(ctx context.Context, account models.Account, result models.ApplyResult) error
}

// Client posts one Discord message per story day and edits it as the day's
// numbers grow.
type Client struct {
	webhookURL  string
	client      *http.Client
	rateLimiter *rate.Limiter

	mu       sync.Mutex
	messages map[string]digestMessage // account ID -> latest day's digest
}

// digestMessage is the message posted for an account's most recent story day.
type digestMessage struct {
	dayID     string
	messageID string
}

func New(webhookURL string) *Client {
	return &Client{
		webhookURL:  webhookURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		rateLimiter: rate.NewLimiter(rate.Every(webhookRateEvery), 1),
		messages:    make(map[string]digestMessage),
	}
}

// Notify sends or refreshes the story day's digest. It is a no-op without a
// webhook. Only each account's latest day is remembered, so a new day starts
// a new message.
func (c *Client) Notify(ctx context.Context, account models.Account, result models.ApplyResult) error {
	if c.webhookURL == "" {
		return nil
	}

	dayID := result.StoryDay.ID
	var messageID string
	c.mu.Lock()
	if prev, ok := c.messages[account.ID]; ok && prev.dayID == dayID {
		messageID = prev.messageID
	}
	c.mu.Unlock()

	if messageID != "" {
		err := c.Update(ctx, messageID, account, result)
		if err == nil {
			return nil
		}
		slog.Warn("Failed to update digest, sending a new one", "account", account.ID, "message_id", messageID, "error", err)
	}

	id, err := c.Send(ctx, account, result)
	if err != nil {
		return err
	}
	if id != "" {
		c.mu.Lock()
		c.messages[account.ID] = digestMessage{dayID: dayID, messageID: id}
		c.mu.Unlock()
	}
	return nil
}

// Send posts a new digest and returns the message ID.
func (c *Client) Send(ctx context.Context, account models.Account, result models.ApplyResult) (string, error) {
	if c.webhookURL == "" {
		return "", nil
	}
	embed := formatDigestEmbed(account, result)
	return c.sendAndGetMessageID(ctx, embed)
}

// Update edits an existing digest.
func (c *Client) Update(ctx context.Context, messageID string, account models.Account, result models.ApplyResult) error {
	if c.webhookURL == "" || messageID == "" {
		return nil
	}
	embed := formatDigestEmbed(account, result)
	return c.updateDiscordMessage(ctx, messageID, embed)
}

type discordWebhookPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      discordEmbedFooter  `json:"footer,omitempty"`
}

type discordMessageResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

func formatDigestEmbed(account models.Account, result models.ApplyResult) discordEmbed {
	day := result.StoryDay

	fields := []discordEmbedField{
		{Name: "New", Value: fmt.Sprintf("👀 +%d  ❤️ +%d", result.NewViews, result.NewLikes), Inline: true},
		{Name: "Today", Value: fmt.Sprintf("👀 %d  ❤️ %d", day.TotalViews, day.TotalLikes), Inline: true},
	}
	if day.ReportedViews > 0 {
		fields = append(fields, discordEmbedField{Name: "Reported", Value: strconv.Itoa(day.ReportedViews), Inline: true})
	}

	var isoTimestamp string
	if !day.LastChecked.IsZero() {
		isoTimestamp = day.LastChecked.Format(time.RFC3339)
	}

	return discordEmbed{
		Title:     fmt.Sprintf("@%s story %s", account.Handle, day.Date),
		Timestamp: isoTimestamp,
		Color:     likeColor(likeRatio(day.TotalLikes, day.TotalViews)),
		Fields:    fields,
		Footer:    discordEmbedFooter{Text: "story-monitor"},
	}
}

func (c *Client) sendAndGetMessageID(ctx context.Context, embed discordEmbed) (string, error) {
	payloadBytes, err := json.Marshal(discordWebhookPayload{Embeds: []discordEmbed{embed}})
	if err != nil {
		return "", err
	}

	parsedURL, err := url.Parse(c.webhookURL)
	if err != nil {
		return "", err
	}
	q := parsedURL.Query()
	q.Set("wait", "true")
	parsedURL.RawQuery = q.Encode()

	bodyBytes, err := c.do(ctx, http.MethodPost, parsedURL.String(), payloadBytes)
	if err != nil {
		return "", err
	}
	var msgResponse discordMessageResponse
	if err := json.Unmarshal(bodyBytes, &msgResponse); err != nil {
		return "", err
	}
	return msgResponse.ID, nil
}

func (c *Client) updateDiscordMessage(ctx context.Context, messageID string, embed discordEmbed) error {
	payloadBytes, err := json.Marshal(discordWebhookPayload{Embeds: []discordEmbed{embed}})
	if err != nil {
		return err
	}

	parsedBaseURL, err := url.Parse(c.webhookURL)
	if err != nil {
		return err
	}
	finalPatchURL := fmt.Sprintf("%s://%s%s/messages/%s", parsedBaseURL.Scheme, parsedBaseURL.Host, parsedBaseURL.Path, messageID)

	_, err = c.do(ctx, http.MethodPatch, finalPatchURL, payloadBytes)
	return err
}

// do sends a webhook request, retrying 5xx and 429 responses.
func (c *Client) do(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return bodyBytes, nil
		}
		lastErr = fmt.Errorf("discord status: %s, body: %s", resp.Status, string(bodyBytes))

		backoff := retryBackoff(resp, attempt)
		if backoff == 0 || attempt == maxSendAttempts-1 {
			break
		}
		slog.Warn("Discord request failed, retrying", "status", resp.StatusCode, "attempt", attempt+1, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

// retryBackoff returns how long to wait before retrying resp, or zero when
// the status is not retryable.
func retryBackoff(resp *http.Response, attempt int) time.Duration {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, err := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64); err == nil && secs > 0 {
			d := time.Duration(secs * float64(time.Second))
			return min(d, maxRetryAfter)
		}
		return retryBaseDelay << attempt
	case resp.StatusCode >= 500:
		return retryBaseDelay << attempt
	default:
		return 0
	}
}

func likeRatio(likes, views int) float64 {
	if views == 0 {
		return 0.0
	}
	return float64(likes) / float64(views)
}

func likeColor(ratio float64) int {
	if ratio > likeRatioViral {
		return colorViralStory
	} else if ratio > likeRatioHot {
		return colorHotStory
	} else if ratio > likeRatioWarm {
		return colorWarmStory
	}
	return colorQuietStory
}
