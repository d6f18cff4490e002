package polar

import (
	"context"
	"fmt"
	"net/http"

	"polar-fitness-sync/internal/metrics"
)

// Webhook event types
const (
	EventPing                = "PING"
	EventExercise            = "EXERCISE"
	EventSleep               = "SLEEP"
	EventContinuousHeartRate = "CONTINUOUS_HEART_RATE"
	EventActivitySummary     = "ACTIVITY_SUMMARY"
	EventCardioLoad          = "CARDIO_LOAD"
	EventNightlyRecharge     = "NIGHTLY_RECHARGE"
)

// DefaultWebhookEvents are the events subscribed to by the CLI
var DefaultWebhookEvents = []string{
	EventExercise,
	EventSleep,
	EventContinuousHeartRate,
	EventActivitySummary,
}

// Webhook represents an AccessLink webhook registration.
// The signature secret is only returned on creation.
type Webhook struct {
	ID                 string   `json:"id"`
	Events             []string `json:"events"`
	URL                string   `json:"url"`
	Active             bool     `json:"active,omitempty"`
	SignatureSecretKey string   `json:"signature_secret_key,omitempty"`
}

// WebhookEvent is the payload AccessLink posts to the webhook URL
type WebhookEvent struct {
	Event     string `json:"event"`
	UserID    int64  `json:"user_id"`
	EntityID  string `json:"entity_id,omitempty"`
	Timestamp string `json:"timestamp"`
	Date      string `json:"date,omitempty"`
	URL       string `json:"url,omitempty"`
}

var eventCategories = map[string]Category{
	EventExercise:            CategoryExercises,
	EventSleep:               CategorySleep,
	EventContinuousHeartRate: CategoryContinuousHeartRate,
	EventActivitySummary:     CategoryActivities,
	EventCardioLoad:          CategoryCardioLoad,
	EventNightlyRecharge:     CategoryNightlyRecharge,
}

// Category returns the data category the event announces
func (e WebhookEvent) Category() (Category, bool) {
	c, ok := eventCategories[e.Event]
	return c, ok
}

// DataDate returns the YYYY-MM-DD the event refers to, falling back to the
// date part of the timestamp
func (e WebhookEvent) DataDate() string {
	if e.Date != "" {
		return e.Date
	}
	if len(e.Timestamp) >= 10 {
		return e.Timestamp[:10]
	}
	return ""
}

// CreateWebhookResult is the outcome of creating the webhook.
// AccessLink allows one webhook per client, so 409 means it already exists.
type CreateWebhookResult struct {
	AlreadyExists bool
	Webhook       *Webhook
}

type webhookRequest struct {
	Events []string `json:"events,omitempty"`
	URL    string   `json:"url,omitempty"`
}

type webhookEnvelope struct {
	Data Webhook `json:"data"`
}

type webhookListEnvelope struct {
	Data []Webhook `json:"data"`
}

// CreateWebhook registers url for events
func (c *Client) CreateWebhook(ctx context.Context, events []string, url string) (*CreateWebhookResult, error) {
	resp, err := c.doJSON(ctx, metrics.OpCreateWebhook, http.MethodPost, "/webhooks", basic, webhookRequest{Events: events, URL: url})
	if err != nil {
		if IsConflict(err) {
			return &CreateWebhookResult{AlreadyExists: true}, nil
		}
		return nil, fmt.Errorf("failed to create webhook: %w", err)
	}

	env, err := decode[webhookEnvelope](resp)
	if err != nil {
		return nil, err
	}
	return &CreateWebhookResult{Webhook: &env.Data}, nil
}

// ListWebhooks lists the webhooks registered for this client
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	resp, err := c.doJSON(ctx, metrics.OpListWebhooks, http.MethodGet, "/webhooks", basic, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	if resp.status == http.StatusNoContent || len(resp.body) == 0 {
		return []Webhook{}, nil
	}

	env, err := decode[webhookListEnvelope](resp)
	if err != nil {
		return nil, err
	}
	if env.Data == nil {
		env.Data = []Webhook{}
	}
	return env.Data, nil
}

// DeleteWebhook removes the webhook. A missing webhook matches ErrNotFound.
func (c *Client) DeleteWebhook(ctx context.Context, id string) error {
	_, err := c.doJSON(ctx, metrics.OpDeleteWebhook, http.MethodDelete, "/webhooks/"+id, basic, nil)
	if err != nil {
		return fmt.Errorf("failed to delete webhook %s: %w", id, err)
	}
	return nil
}

// UpdateWebhook changes the events and/or url of the webhook.
// A missing webhook matches ErrNotFound.
func (c *Client) UpdateWebhook(ctx context.Context, id string, events []string, url string) (*Webhook, error) {
	resp, err := c.doJSON(ctx, metrics.OpUpdateWebhook, http.MethodPatch, "/webhooks/"+id, basic, webhookRequest{Events: events, URL: url})
	if err != nil {
		return nil, fmt.Errorf("failed to update webhook %s: %w", id, err)
	}

	env, err := decode[webhookEnvelope](resp)
	if err != nil {
		return nil, err
	}
	return &env.Data, nil
}
