package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeQueue(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"client_event_webhooks", "client_event_webhooks"},
		{"member_added_webhooks", "member_added_webhooks"},
		{"channel_occupied_webhooks", "channel_occupied_webhooks"},
		{"", "unknown"},
		{"client_event", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeQueue(tt.input))
		})
	}
}

func TestNormalizeReason(t *testing.T) {
	assert.Equal(t, "delivered", NormalizeReason("delivered", AllowedDeliveryStatuses))
	assert.Equal(t, "other", NormalizeReason("timeout", AllowedDeliveryStatuses))
	assert.Equal(t, "lambda", NormalizeReason("lambda", AllowedTargets))
	assert.Equal(t, "app_not_found", NormalizeReason("app_not_found", AllowedDispatchReasons))
	assert.Equal(t, "other", NormalizeCacheName("webhook_list"))
	assert.Equal(t, "app_by_key", NormalizeCacheName("app_by_key"))
}
