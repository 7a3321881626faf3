// Package handoff packages completed fields and notifies the downstream
// application/verification service exactly once per session.
package handoff

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Payload is what the application service receives.
type Payload struct {
	SessionID     string         `json:"session_id"`
	Fields        map[string]any `json:"fields"`
	ApplicationID string         `json:"application_id,omitempty"`
}

// Submitter is the external application/verification collaborator.
type Submitter interface {
	Submit(ctx context.Context, p Payload) (applicationID string, err error)
}

// Dispatcher wraps a Submitter with the retry policy: one retry after a
// short backoff, then the failure surfaces to the session as a spoken
// error turn (collected fields stay intact).
type Dispatcher struct {
	sub     Submitter
	backoff time.Duration
}

func NewDispatcher(sub Submitter) *Dispatcher {
	return &Dispatcher{sub: sub, backoff: 500 * time.Millisecond}
}

// Dispatch submits the payload, retrying once.
func (d *Dispatcher) Dispatch(ctx context.Context, p Payload) (string, error) {
	id, err := d.sub.Submit(ctx, p)
	if err == nil {
		metricHandoffs.WithLabelValues("ok").Inc()
		return id, nil
	}
	log.Printf("[handoff] submit failed session=%s, retrying: %v", p.SessionID, err)
	metricRetries.Inc()

	select {
	case <-time.After(d.backoff):
	case <-ctx.Done():
		metricHandoffs.WithLabelValues("error").Inc()
		return "", ctx.Err()
	}

	id, err = d.sub.Submit(ctx, p)
	if err != nil {
		metricHandoffs.WithLabelValues("error").Inc()
		return "", fmt.Errorf("handoff submit: %w", err)
	}
	metricHandoffs.WithLabelValues("ok").Inc()
	return id, nil
}
