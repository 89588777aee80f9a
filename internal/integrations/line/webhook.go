package line

import (
	"encoding/json"
	"fmt"

	"fudosan-agent/internal/domain"
)

// webhookPayload is the subset of the LINE webhook body this service reads.
type webhookPayload struct {
	Destination string         `json:"destination"`
	Events      []webhookEvent `json:"events"`
}

type webhookEvent struct {
	Type            string `json:"type"`
	WebhookEventID  string `json:"webhookEventId"`
	DeliveryContext struct {
		IsRedelivery bool `json:"isRedelivery"`
	} `json:"deliveryContext"`
	Source struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

// DecodeWebhook parses a webhook body into events. A body without an events
// array yields no events.
func DecodeWebhook(body []byte) ([]domain.Event, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("line: decode webhook: %w", err)
	}
	events := make([]domain.Event, 0, len(payload.Events))
	for _, e := range payload.Events {
		events = append(events, domain.Event{
			ID:          e.WebhookEventID,
			Type:        e.Type,
			MessageType: e.Message.Type,
			UserID:      e.Source.UserID,
			Text:        e.Message.Text,
			Redelivery:  e.DeliveryContext.IsRedelivery,
		})
	}
	return events, nil
}
