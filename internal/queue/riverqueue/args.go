// Package riverqueue runs delivery jobs on River, a Postgres-backed job queue.
package riverqueue

import (
	"encoding/json"

	"github.com/riverqueue/river"

	"github.com/pushgate/webhooks/internal/datatypes"
	"github.com/pushgate/webhooks/internal/models"
)

// DeliveryJobKind is the River job kind for webhook deliveries.
const DeliveryJobKind = "webhook_delivery"

// DeliveryJobArgs carries one delivery job through River. Category selects both the River
// queue and the handler. Payload is a JSON string, not a nested object, so the signed bytes
// come back unchanged from River's jsonb args column.
type DeliveryJobArgs struct {
	Category  datatypes.QueueCategory `json:"category"`
	AppKey    string                  `json:"app_key"`
	AppID     string                  `json:"app_id"`
	Payload   string                  `json:"payload"`
	Signature string                  `json:"signature"`
}

// NewDeliveryJobArgs wraps job for category.
func NewDeliveryJobArgs(category datatypes.QueueCategory, job *models.DeliveryJob) DeliveryJobArgs {
	return DeliveryJobArgs{
		Category:  category,
		AppKey:    job.AppKey,
		AppID:     job.AppID,
		Payload:   string(job.Payload),
		Signature: job.Signature,
	}
}

// DeliveryJob rebuilds the job with the payload bytes exactly as they were signed.
func (a DeliveryJobArgs) DeliveryJob() *models.DeliveryJob {
	return &models.DeliveryJob{
		AppKey:    a.AppKey,
		AppID:     a.AppID,
		Payload:   json.RawMessage(a.Payload),
		Signature: a.Signature,
	}
}

// Kind returns the job type identifier for River.
func (DeliveryJobArgs) Kind() string { return DeliveryJobKind }

// InsertOpts routes the job to its category queue. Deliveries are attempted once.
func (a DeliveryJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       a.Category.String(),
		MaxAttempts: 1,
	}
}
