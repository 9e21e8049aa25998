package models

import (
	"errors"
	"fmt"

	"github.com/pushgate/webhooks/internal/api/validation"
	"github.com/pushgate/webhooks/internal/datatypes"
)

// App validation errors.
var (
	ErrAppIDEmpty     = errors.New("invalid app id")
	ErrAppKeyEmpty    = errors.New("invalid app key")
	ErrAppSecretEmpty = errors.New("invalid app secret")
)

// App is a tenant of the realtime server. Secret signs payloads and is never sent.
type App struct {
	ID       string          `json:"id"                yaml:"id"                validate:"required,no_null_bytes,max=255"`
	Key      string          `json:"key"               yaml:"key"               validate:"required,no_null_bytes,max=255"`
	Secret   string          `json:"secret"            yaml:"secret"            validate:"required,no_null_bytes"`
	Enabled  *bool           `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Webhooks []WebhookConfig `json:"webhooks"          yaml:"webhooks"`
}

// IsEnabled treats an unset flag as enabled.
func (a *App) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// Validate checks identifiers and every webhook.
func (a *App) Validate() error {
	if err := validation.ValidateStruct(a); err != nil {
		return appError(err)
	}

	for i := range a.Webhooks {
		if err := a.Webhooks[i].Validate(); err != nil {
			return fmt.Errorf("app %s webhook %d: %w", a.ID, i, err)
		}
	}

	return nil
}

func appError(err error) error {
	fields := validation.FieldErrors(err)
	if len(fields) == 0 {
		return err
	}

	switch fields[0].StructField() {
	case "ID":
		return fmt.Errorf("%w: %w", ErrAppIDEmpty, err)
	case "Key":
		return fmt.Errorf("%w: %w", ErrAppKeyEmpty, err)
	case "Secret":
		return fmt.Errorf("%w: %w", ErrAppSecretEmpty, err)
	default:
		return err
	}
}

// HasWebhooksFor reports whether any webhook subscribed to kind.
func (a *App) HasWebhooksFor(kind datatypes.EventKind) bool {
	for i := range a.Webhooks {
		if a.Webhooks[i].Handles(kind) {
			return true
		}
	}

	return false
}

// HasClientEventWebhooks gates client_event dispatch.
func (a *App) HasClientEventWebhooks() bool { return a.HasWebhooksFor(datatypes.ClientEvent) }

// HasMemberAddedWebhooks gates member_added dispatch.
func (a *App) HasMemberAddedWebhooks() bool { return a.HasWebhooksFor(datatypes.MemberAdded) }

// HasMemberRemovedWebhooks gates member_removed dispatch.
func (a *App) HasMemberRemovedWebhooks() bool { return a.HasWebhooksFor(datatypes.MemberRemoved) }

// HasChannelVacatedWebhooks gates channel_vacated dispatch.
func (a *App) HasChannelVacatedWebhooks() bool { return a.HasWebhooksFor(datatypes.ChannelVacated) }

// HasChannelOccupiedWebhooks gates channel_occupied dispatch.
func (a *App) HasChannelOccupiedWebhooks() bool { return a.HasWebhooksFor(datatypes.ChannelOccupied) }
