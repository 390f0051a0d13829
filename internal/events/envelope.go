// Package events publishes committed order changes to a message broker.
package events

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/storefront/internal/codec"
	"github.com/xenking/storefront/internal/domain/order"
)

// EventVersion is bumped on incompatible payload changes.
const EventVersion = 1

// Envelope wraps every event on the wire. Payload is the order JSON.
type Envelope struct {
	EventID       string
	EventType     order.EventType
	EventVersion  int
	OccurredAt    time.Time
	Producer      string
	CorrelationID string
	Payload       jx.Raw
}

// NewEnvelope builds the envelope for e. The correlation id is the order id.
func NewEnvelope(producer string, e order.Event) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     e.Type,
		EventVersion:  EventVersion,
		OccurredAt:    e.At,
		Producer:      producer,
		CorrelationID: e.Order.ID,
		Payload:       codec.MarshalOrder(e.Order),
	}
}

// Encode writes the envelope as JSON.
func (env Envelope) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("event_id")
	e.Str(env.EventID)
	e.FieldStart("event_type")
	e.Str(string(env.EventType))
	e.FieldStart("event_version")
	e.Int(env.EventVersion)
	e.FieldStart("occurred_at")
	codec.Time(e, env.OccurredAt)
	e.FieldStart("producer")
	e.Str(env.Producer)
	if env.CorrelationID != "" {
		e.FieldStart("correlation_id")
		e.Str(env.CorrelationID)
	}
	e.FieldStart("payload")
	e.Raw(env.Payload)
	e.ObjEnd()
}

// Marshal returns the JSON form of env.
func (env Envelope) Marshal() []byte {
	var e jx.Encoder
	env.Encode(&e)
	return e.Bytes()
}

// UnmarshalEnvelope parses an envelope; the payload is kept raw.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	err := jx.DecodeBytes(b).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "event_id":
			env.EventID, err = d.Str()
		case "event_type":
			var s string
			s, err = d.Str()
			env.EventType = order.EventType(s)
		case "event_version":
			env.EventVersion, err = d.Int()
		case "occurred_at":
			env.OccurredAt, err = codec.DecodeTime(d)
		case "producer":
			env.Producer, err = d.Str()
		case "correlation_id":
			env.CorrelationID, err = d.Str()
		case "payload":
			var raw jx.Raw
			raw, err = d.Raw()
			env.Payload = append(jx.Raw(nil), raw...)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	return env, nil
}

// Order decodes the payload.
func (env Envelope) Order() (*order.Order, error) {
	return codec.UnmarshalOrder(env.Payload)
}
