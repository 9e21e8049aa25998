package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyPayload is returned when a job payload carries no events.
var ErrEmptyPayload = errors.New("payload has no events")

// DeliveryJob is the unit placed on a queue. Payload holds the exact bytes that were signed,
// so every backend delivers what the signature covers.
type DeliveryJob struct {
	AppKey    string          `json:"appKey"`
	AppID     string          `json:"appId"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"pusherSignature"`
}

// DecodePayload parses the job's payload.
func (j *DeliveryJob) DecodePayload() (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	if len(p.Events) == 0 {
		return nil, ErrEmptyPayload
	}

	return &p, nil
}

// FirstEvent returns the first event of the payload; filters evaluate against it.
func (j *DeliveryJob) FirstEvent() (*Event, error) {
	p, err := j.DecodePayload()
	if err != nil {
		return nil, err
	}

	return &p.Events[0], nil
}
