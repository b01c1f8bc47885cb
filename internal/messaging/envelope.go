package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"
)

const (
	SpecVersion     = "1.0"
	ContentTypeJSON = "application/json"
)

// Envelope is the CloudEvents-style wrapper every published event travels in.
// ID is fresh per publish attempt; idempotency relies on the version inside Data.
type Envelope struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	SpecVersion     string          `json:"specversion"`
	DataContentType string          `json:"datacontenttype"`
	DataSchema      *string         `json:"dataschema"`
	Subject         *string         `json:"subject"`
	Time            time.Time       `json:"time"`
	Data            json.RawMessage `json:"data"`
	TraceParent     *string         `json:"traceparent"`
	TraceState      *string         `json:"tracestate"`
}

var propagator = propagation.TraceContext{}

// NewEnvelope marshals data and stamps the trace context found in ctx.
func NewEnvelope(ctx context.Context, wireType, source, subject string, data any, now time.Time) (Envelope, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s data: %w", wireType, err)
	}
	env := Envelope{
		ID:              uuid.NewString(),
		Type:            wireType,
		Source:          source,
		SpecVersion:     SpecVersion,
		DataContentType: ContentTypeJSON,
		Time:            now.UTC(),
		Data:            body,
	}
	if subject != "" {
		env.Subject = &subject
	}

	carrier := propagation.MapCarrier{}
	propagator.Inject(ctx, carrier)
	if v := carrier.Get("traceparent"); v != "" {
		env.TraceParent = &v
	}
	if v := carrier.Get("tracestate"); v != "" {
		env.TraceState = &v
	}
	return env, nil
}

// Context returns ctx carrying the remote span context recorded in the envelope.
func (e Envelope) Context(ctx context.Context) context.Context {
	carrier := propagation.MapCarrier{}
	if e.TraceParent != nil {
		carrier.Set("traceparent", *e.TraceParent)
	}
	if e.TraceState != nil {
		carrier.Set("tracestate", *e.TraceState)
	}
	return propagator.Extract(ctx, carrier)
}

// ParseEnvelope decodes and sanity-checks a wire message. Failures wrap
// ErrPoisonMessage since redelivery cannot fix them.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: malformed envelope: %v", ErrPoisonMessage, err)
	}
	switch {
	case env.Type == "":
		return Envelope{}, fmt.Errorf("%w: envelope has no type", ErrPoisonMessage)
	case len(env.Data) == 0 || string(env.Data) == "null":
		return Envelope{}, fmt.Errorf("%w: envelope %s has no data", ErrPoisonMessage, env.ID)
	}
	return env, nil
}

// ErrPoisonMessage marks a message that will never succeed and belongs in
// the dead-letter path.
var ErrPoisonMessage = errors.New("poison message")

// IsPoison reports whether err should bypass retries.
func IsPoison(err error) bool {
	return errors.Is(err, ErrPoisonMessage)
}
