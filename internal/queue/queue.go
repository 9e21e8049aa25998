// Package queue defines the contract between the webhook sender, which produces delivery
// jobs, and the dispatch worker, which consumes them. Backends live in subpackages; the
// in-process driver lives here.
package queue

import (
	"context"
	"errors"

	"github.com/pushgate/webhooks/internal/datatypes"
	"github.com/pushgate/webhooks/internal/models"
)

// Queue errors.
var (
	ErrStopped       = errors.New("queue stopped")
	ErrNoConsumer    = errors.New("no consumer registered for queue")
	ErrAlreadyActive = errors.New("queue already started")
)

// Handler consumes one delivery job. A returned error is logged by the backend; jobs are
// never redelivered because of it.
type Handler func(ctx context.Context, job *models.DeliveryJob) error

// Queue is implemented by every backend.
type Queue interface {
	// Enqueue places job on the queue for category.
	Enqueue(ctx context.Context, category datatypes.QueueCategory, job *models.DeliveryJob) error
	// Process registers the consumer for category. Call before Start.
	Process(category datatypes.QueueCategory, handler Handler)
	// Start begins consuming every registered category.
	Start(ctx context.Context) error
	// Stop stops consuming and waits for in-flight handlers or ctx.
	Stop(ctx context.Context) error
}

// DepthReporter is implemented by backends that can report how many jobs are waiting.
type DepthReporter interface {
	Depth(ctx context.Context, category datatypes.QueueCategory) (int, error)
}
