package line

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fudosan-agent/internal/domain"
)

const samplePayload = `{
  "destination": "Uxxxxxxxx",
  "events": [
    {
      "type": "message",
      "webhookEventId": "01FZ74A0TDDPYRVKNK77XKC3ZR",
      "deliveryContext": {"isRedelivery": false},
      "replyToken": "nHuyWiB7yP5Zw52FIkcQobQuGDXCTA",
      "source": {"type": "user", "userId": "U4af4980629"},
      "message": {"id": "444573844083572737", "type": "text", "text": "渋谷区の中古マンション、70㎡、築10年"}
    },
    {
      "type": "message",
      "webhookEventId": "01FZ74A0TDDPYRVKNK77XKC3ZS",
      "deliveryContext": {"isRedelivery": true},
      "source": {"type": "user", "userId": "U4af4980629"},
      "message": {"id": "444573844083572738", "type": "sticker"}
    },
    {
      "type": "follow",
      "webhookEventId": "01FZ74A0TDDPYRVKNK77XKC3ZT",
      "source": {"type": "user", "userId": "Ub0000"}
    }
  ]
}`

func TestDecodeWebhook(t *testing.T) {
	events, err := DecodeWebhook([]byte(samplePayload))
	require.NoError(t, err)
	require.Len(t, events, 3)

	require.Equal(t, domain.Event{
		ID:          "01FZ74A0TDDPYRVKNK77XKC3ZR",
		Type:        "message",
		MessageType: "text",
		UserID:      "U4af4980629",
		Text:        "渋谷区の中古マンション、70㎡、築10年",
	}, events[0])
	require.True(t, events[0].IsTextMessage())

	require.True(t, events[1].Redelivery)
	require.False(t, events[1].IsTextMessage())

	require.Equal(t, "follow", events[2].Type)
	require.False(t, events[2].IsTextMessage())
}

func TestDecodeWebhook_EmptyAndMissingEvents(t *testing.T) {
	events, err := DecodeWebhook([]byte(`{"destination":"U1","events":[]}`))
	require.NoError(t, err)
	require.Empty(t, events)

	events, err = DecodeWebhook([]byte(`{}`))
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestDecodeWebhook_Malformed(t *testing.T) {
	_, err := DecodeWebhook([]byte(`not-json`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode webhook")
}
