// Package transport delivers signed webhook payloads to HTTP endpoints and serverless
// functions. Every delivery returns an Outcome value; nothing is reported through callbacks.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pushgate/webhooks/internal/models"
)

// Status is the terminal state of one delivery attempt.
type Status int

// Delivery statuses.
const (
	StatusDelivered Status = iota + 1
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Target kinds, used as the metrics label.
const (
	TargetKindHTTP   = "http"
	TargetKindLambda = "lambda"
)

// TargetKind names the transport used for target.
func TargetKind(target models.Target) string {
	switch target.(type) {
	case models.LambdaTarget:
		return TargetKindLambda
	default:
		return TargetKindHTTP
	}
}

// Delivery is one payload bound for one webhook target.
type Delivery struct {
	Target  models.Target
	Payload []byte
	Headers http.Header
}

// Outcome is the result of a delivery attempt.
type Outcome struct {
	Status Status
	Target models.Target
	// StatusCode is the HTTP status or the Lambda invoke status; zero when no response was received.
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Delivered reports whether the attempt succeeded.
func (o Outcome) Delivered() bool { return o.Status == StatusDelivered }

func delivered(target models.Target, code int, started time.Time) Outcome {
	return Outcome{Status: StatusDelivered, Target: target, StatusCode: code, Duration: time.Since(started)}
}

func failed(target models.Target, code int, started time.Time, err error) Outcome {
	return Outcome{Status: StatusFailed, Target: target, StatusCode: code, Duration: time.Since(started), Err: err}
}

// Transport performs a single delivery.
type Transport interface {
	Deliver(ctx context.Context, d Delivery) Outcome
}

// Router picks the transport matching the delivery target.
type Router struct {
	HTTP   Transport
	Lambda Transport
}

// Deliver implements Transport.
func (r *Router) Deliver(ctx context.Context, d Delivery) Outcome {
	switch d.Target.(type) {
	case models.HTTPTarget:
		return r.HTTP.Deliver(ctx, d)
	case models.LambdaTarget:
		return r.Lambda.Deliver(ctx, d)
	default:
		return failed(d.Target, 0, time.Now(), fmt.Errorf("unsupported webhook target %T", d.Target))
	}
}

var _ Transport = (*Router)(nil)
