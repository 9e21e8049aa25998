package transport

import (
	"fmt"
	"net/http"
)

// Protocol header names.
const (
	HeaderPusherKey       = "X-Pusher-Key"
	HeaderPusherSignature = "X-Pusher-Signature"
)

const userAgentFormat = "PushgateWebhooksClient/1.0 (Process: %s)"

// UserAgent identifies this process to webhook receivers.
func UserAgent(processID string) string {
	return fmt.Sprintf(userAgentFormat, processID)
}

// BuildHeaders returns the outbound headers for a delivery. Custom headers are applied after
// the defaults and before the key and signature, so they can never replace those two.
func BuildHeaders(appKey, signature, processID string, custom map[string]string) http.Header {
	h := make(http.Header, len(custom)+5)
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", UserAgent(processID))

	for name, value := range custom {
		h.Set(name, value)
	}

	h.Set(HeaderPusherKey, appKey)
	h.Set(HeaderPusherSignature, signature)

	return h
}

// HeaderMap flattens h to the first value of each header, as sent to serverless functions.
func HeaderMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) > 0 {
			out[name] = values[0]
		}
	}

	return out
}
