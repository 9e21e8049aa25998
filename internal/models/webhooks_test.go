package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushgate/webhooks/internal/datatypes"
)

func TestWebhookConfig_Matches(t *testing.T) {
	clientOnly := WebhookConfig{URL: "https://example.com/hook", EventTypes: []string{"client_event"}}
	privateOnly := WebhookConfig{
		URL:        "https://example.com/hook",
		EventTypes: []string{"client_event", "channel_occupied"},
		Filter:     &WebhookFilter{ChannelNameStartsWith: "private-"},
	}
	suffix := WebhookConfig{
		URL:        "https://example.com/hook",
		EventTypes: []string{"member_added"},
		Filter:     &WebhookFilter{ChannelNameStartsWith: "presence-", ChannelNameEndsWith: "-room"},
	}

	tests := []struct {
		name    string
		webhook WebhookConfig
		event   Event
		want    bool
	}{
		{"event type subscribed", clientOnly, NewClientEvent("ch1", "greeting", nil, "", ""), true},
		{"event type not subscribed", clientOnly, NewChannelOccupied("ch1"), false},
		{"prefix match", privateOnly, NewClientEvent("private-x", "greeting", nil, "", ""), true},
		{"prefix mismatch", privateOnly, NewClientEvent("public-x", "greeting", nil, "", ""), false},
		{"prefix and suffix match", suffix, NewMemberAdded("presence-chat-room", "u1"), true},
		{"suffix mismatch", suffix, NewMemberAdded("presence-chat", "u1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.webhook.Matches(&tt.event))
		})
	}
}

func TestWebhookConfig_Target(t *testing.T) {
	t.Run("http", func(t *testing.T) {
		w := WebhookConfig{URL: "https://example.com/hook"}
		target, err := w.Target()
		require.NoError(t, err)
		assert.Equal(t, HTTPTarget{URL: "https://example.com/hook"}, target)
	})

	t.Run("lambda defaults region", func(t *testing.T) {
		w := WebhookConfig{LambdaFunction: "notify", Lambda: LambdaOptions{Async: true}}
		target, err := w.Target()
		require.NoError(t, err)

		lt, ok := target.(LambdaTarget)
		require.True(t, ok)
		assert.Equal(t, "notify", lt.Function)
		assert.Equal(t, DefaultLambdaRegion, lt.Region)
		assert.True(t, lt.Async)
	})

	t.Run("both set", func(t *testing.T) {
		w := WebhookConfig{URL: "https://example.com", LambdaFunction: "notify"}
		_, err := w.Target()
		require.ErrorIs(t, err, ErrWebhookAmbiguousTarget)
	})

	t.Run("neither set", func(t *testing.T) {
		_, err := (&WebhookConfig{}).Target()
		require.ErrorIs(t, err, ErrWebhookNoTarget)
	})
}

func TestWebhookConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		webhook WebhookConfig
		wantErr error
	}{
		{"valid url", WebhookConfig{URL: "https://example.com/h", EventTypes: []string{"client_event"}}, nil},
		{"valid lambda", WebhookConfig{LambdaFunction: "fn", EventTypes: []string{"member_added"}}, nil},
		{"relative url", WebhookConfig{URL: "/hook", EventTypes: []string{"client_event"}}, ErrWebhookInvalidURL},
		{"no event types", WebhookConfig{URL: "https://example.com/h"}, ErrWebhookNoEventTypes},
		{"bad event type", WebhookConfig{URL: "https://example.com/h", EventTypes: []string{"x"}}, datatypes.ErrInvalidEventType},
		{"duplicate event type", WebhookConfig{URL: "https://example.com/h", EventTypes: []string{"member_added", "member_added"}}, datatypes.ErrDuplicateEventType},
		{"url and lambda", WebhookConfig{URL: "https://example.com/h", LambdaFunction: "fn", EventTypes: []string{"client_event"}}, ErrWebhookAmbiguousTarget},
		{"no target", WebhookConfig{EventTypes: []string{"client_event"}}, ErrWebhookNoTarget},
		{"ftp url", WebhookConfig{URL: "ftp://example.com/h", EventTypes: []string{"client_event"}}, ErrWebhookInvalidURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.webhook.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewClientEvent(t *testing.T) {
	data := json.RawMessage(`{"msg":"hi"}`)

	t.Run("user id dropped outside presence channels", func(t *testing.T) {
		e := NewClientEvent("private-ch", "client-typing", data, "1.2", "u1")
		assert.Empty(t, e.UserID)
		assert.Equal(t, "1.2", e.SocketID)
	})

	t.Run("user id kept on presence channels", func(t *testing.T) {
		e := NewClientEvent("presence-ch", "client-typing", data, "", "u1")
		assert.Equal(t, "u1", e.UserID)
	})

	t.Run("optional fields omitted from json", func(t *testing.T) {
		e := NewClientEvent("ch", "client-typing", nil, "", "")
		b, err := json.Marshal(e)
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"client_event","channel":"ch","event":"client-typing"}`, string(b))
	})
}

func TestEvent_Validate(t *testing.T) {
	require.NoError(t, (&Event{Name: datatypes.ChannelVacated, Channel: "c"}).Validate())
	require.ErrorIs(t, (&Event{Name: "bogus", Channel: "c"}).Validate(), ErrEventKindInvalid)
	require.ErrorIs(t, (&Event{Name: datatypes.ChannelOccupied}).Validate(), ErrEventChannelEmpty)
	require.ErrorIs(t, (&Event{Name: datatypes.ClientEvent, Channel: "c"}).Validate(), ErrEventNameEmpty)
	require.ErrorIs(t, (&Event{Name: datatypes.MemberRemoved, Channel: "c"}).Validate(), ErrEventUserIDMissing)
	require.ErrorIs(t, (&Event{Name: datatypes.MemberAdded, Channel: "c"}).Validate(), ErrEventUserIDMissing)
	require.ErrorIs(t, (&Event{Name: datatypes.ChannelVacated, Channel: "a\x00b"}).Validate(), ErrEventChannelEmpty)
	require.NoError(t, (&Event{Name: datatypes.ChannelOccupied, Channel: "c", UserID: ""}).Validate())
}

func TestDeliveryJob_WireShape(t *testing.T) {
	payload := NewPayload(time.UnixMilli(1700000000123), []Event{NewChannelOccupied("ch1")})
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	job := DeliveryJob{AppKey: "key", AppID: "1", Payload: body, Signature: "abc"}
	b, err := json.Marshal(job)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"appKey":"key","appId":"1","payload":{"time_ms":1700000000123,"events":[{"name":"channel_occupied","channel":"ch1"}]},"pusherSignature":"abc"}`,
		string(b))

	first, err := job.FirstEvent()
	require.NoError(t, err)
	assert.Equal(t, "ch1", first.Channel)
}

func TestDeliveryJob_EmptyPayload(t *testing.T) {
	job := DeliveryJob{Payload: json.RawMessage(`{"time_ms":1,"events":[]}`)}
	_, err := job.DecodePayload()
	require.ErrorIs(t, err, ErrEmptyPayload)
}

func TestApp_Capabilities(t *testing.T) {
	app := App{
		ID: "1", Key: "k", Secret: "s",
		Webhooks: []WebhookConfig{
			{URL: "https://a.example/h", EventTypes: []string{"client_event", "member_added"}},
			{LambdaFunction: "fn", EventTypes: []string{"channel_vacated"}},
		},
	}

	require.NoError(t, app.Validate())
	assert.True(t, app.IsEnabled())
	assert.True(t, app.HasClientEventWebhooks())
	assert.True(t, app.HasMemberAddedWebhooks())
	assert.False(t, app.HasMemberRemovedWebhooks())
	assert.True(t, app.HasChannelVacatedWebhooks())
	assert.False(t, app.HasChannelOccupiedWebhooks())

	missingKey := app
	missingKey.Key = ""
	require.ErrorIs(t, missingKey.Validate(), ErrAppKeyEmpty)

	badWebhook := app
	badWebhook.Webhooks = []WebhookConfig{{URL: "https://a.example/h"}}
	require.ErrorIs(t, badWebhook.Validate(), ErrWebhookNoEventTypes)

	disabled := false
	app.Enabled = &disabled
	assert.False(t, app.IsEnabled())
}
