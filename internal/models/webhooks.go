package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/pushgate/webhooks/internal/api/validation"
	"github.com/pushgate/webhooks/internal/datatypes"
)

// DefaultLambdaRegion is used when a lambda webhook does not name a region.
const DefaultLambdaRegion = "us-east-1"

// Webhook configuration errors.
var (
	ErrWebhookNoTarget        = errors.New("webhook needs either url or lambda_function")
	ErrWebhookAmbiguousTarget = errors.New("webhook cannot set both url and lambda_function")
	ErrWebhookInvalidURL      = errors.New("webhook url must be an absolute http(s) url")
	ErrWebhookNoEventTypes    = errors.New("webhook needs at least one event type")
)

// WebhookFilter narrows which channels a webhook hears about. Empty fields match everything.
type WebhookFilter struct {
	ChannelNameStartsWith string `json:"channel_name_starts_with,omitempty" yaml:"channel_name_starts_with,omitempty"`
	ChannelNameEndsWith   string `json:"channel_name_ends_with,omitempty"   yaml:"channel_name_ends_with,omitempty"`
}

// LambdaClientOptions overrides how the AWS client for a lambda webhook is built.
type LambdaClientOptions struct {
	Endpoint        string `json:"endpoint,omitempty"          yaml:"endpoint,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"     yaml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
	SessionToken    string `json:"session_token,omitempty"     yaml:"session_token,omitempty"`
}

// LambdaOptions configures a lambda_function webhook.
type LambdaOptions struct {
	Region        string              `json:"region,omitempty"         yaml:"region,omitempty"`
	Async         bool                `json:"async,omitempty"          yaml:"async,omitempty"`
	ClientOptions LambdaClientOptions `json:"client_options,omitempty" yaml:"client_options,omitempty"`
}

// WebhookConfig is one webhook of an app as stored in the registry. Exactly one of URL and
// LambdaFunction is set.
type WebhookConfig struct {
	URL            string            `json:"url,omitempty"             yaml:"url,omitempty"             validate:"required_without=LambdaFunction,excluded_with=LambdaFunction,omitempty,no_null_bytes,max=2048,http_url"`
	LambdaFunction string            `json:"lambda_function,omitempty" yaml:"lambda_function,omitempty" validate:"omitempty,no_null_bytes,max=170"`
	Lambda         LambdaOptions     `json:"lambda,omitempty"          yaml:"lambda,omitempty"`
	EventTypes     []string          `json:"event_types"               yaml:"event_types"               validate:"min=1,unique,dive,event_type"`
	Filter         *WebhookFilter    `json:"filter,omitempty"          yaml:"filter,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"         yaml:"headers,omitempty"`
}

// Target is where a webhook is delivered. Implemented only by HTTPTarget and LambdaTarget.
type Target interface {
	isTarget()
	String() string
}

// HTTPTarget delivers with an HTTP POST.
type HTTPTarget struct {
	URL string
}

// LambdaTarget delivers by invoking a serverless function.
type LambdaTarget struct {
	Function      string
	Region        string
	Async         bool
	ClientOptions LambdaClientOptions
}

func (HTTPTarget) isTarget()   {}
func (LambdaTarget) isTarget() {}

func (t HTTPTarget) String() string   { return t.URL }
func (t LambdaTarget) String() string { return "lambda:" + t.Region + ":" + t.Function }

// Target resolves the delivery target. It fails when neither or both of url and
// lambda_function are set.
func (w *WebhookConfig) Target() (Target, error) {
	switch {
	case w.URL != "" && w.LambdaFunction != "":
		return nil, ErrWebhookAmbiguousTarget
	case w.URL != "":
		return HTTPTarget{URL: w.URL}, nil
	case w.LambdaFunction != "":
		region := w.Lambda.Region
		if region == "" {
			region = DefaultLambdaRegion
		}

		return LambdaTarget{
			Function:      w.LambdaFunction,
			Region:        region,
			Async:         w.Lambda.Async,
			ClientOptions: w.Lambda.ClientOptions,
		}, nil
	default:
		return nil, ErrWebhookNoTarget
	}
}

// Validate checks the target and event types. The returned error wraps one of the
// ErrWebhook* sentinels (or datatypes.ErrInvalidEventType) and the field errors.
func (w *WebhookConfig) Validate() error {
	err := validation.ValidateStruct(w)
	if err == nil {
		return nil
	}

	fields := validation.FieldErrors(err)
	if len(fields) == 0 {
		return err
	}

	fe := fields[0]

	switch {
	case fe.StructField() == "URL" && fe.Tag() == "required_without":
		return fmt.Errorf("%w: %w", ErrWebhookNoTarget, err)
	case fe.StructField() == "URL" && fe.Tag() == "excluded_with":
		return fmt.Errorf("%w: %w", ErrWebhookAmbiguousTarget, err)
	case fe.StructField() == "URL":
		return fmt.Errorf("%w: %w", ErrWebhookInvalidURL, err)
	case fe.StructField() == "EventTypes" && fe.Tag() == "unique":
		return fmt.Errorf("event_types: %w: %w", datatypes.ErrDuplicateEventType, err)
	case fe.StructField() == "EventTypes":
		return fmt.Errorf("%w: %w", ErrWebhookNoEventTypes, err)
	case strings.HasPrefix(fe.StructField(), "EventTypes["):
		return fmt.Errorf("event_types: %w: %w", datatypes.ErrInvalidEventType, err)
	default:
		return err
	}
}

// Handles reports whether the webhook subscribed to kind.
func (w *WebhookConfig) Handles(kind datatypes.EventKind) bool {
	return slices.Contains(w.EventTypes, kind.String())
}

// Matches reports whether the webhook should receive a payload whose first event is e.
func (w *WebhookConfig) Matches(e *Event) bool {
	if !w.Handles(e.Name) {
		return false
	}

	if w.Filter == nil {
		return true
	}

	if w.Filter.ChannelNameStartsWith != "" && !strings.HasPrefix(e.Channel, w.Filter.ChannelNameStartsWith) {
		return false
	}

	if w.Filter.ChannelNameEndsWith != "" && !strings.HasSuffix(e.Channel, w.Filter.ChannelNameEndsWith) {
		return false
	}

	return true
}
