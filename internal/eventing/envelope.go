package eventing

import (
	"encoding/json"
	"errors"
	"reflect"
	"time"
)

// ErrNilEventPayload rejects a nil event handed to BuildEnvelope.
var ErrNilEventPayload = errors.New("eventing: nil event payload")

// Envelope carries an event payload plus the delivery metadata the outbox
// and consumers need.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	TenantID      string          `json:"tenant_id"`
	VenueID       string          `json:"venue_id"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Meta overrides envelope fields that the event struct cannot supply.
type Meta struct {
	EventID       string
	OccurredAt    time.Time
	CorrelationID string
	TenantID      string
	VenueID       string
	SchemaVersion int
}

// BuildEnvelope serializes event and fills in metadata. The event type name
// doubles as the routing key, so registry keys must match reflect type names.
func BuildEnvelope(event any, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, ErrNilEventPayload
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		EventID:       meta.EventID,
		EventType:     typeName(event),
		OccurredAt:    meta.OccurredAt,
		CorrelationID: meta.CorrelationID,
		TenantID:      meta.TenantID,
		VenueID:       meta.VenueID,
		SchemaVersion: meta.SchemaVersion,
		Payload:       payload,
	}

	if env.VenueID == "" {
		env.VenueID = stringField(event, "VenueID", "TerminalID")
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = timeField(event, "OccurredAt")
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now()
	}
	env.OccurredAt = env.OccurredAt.UTC()

	if env.EventID == "" {
		env.EventID = NewEventID()
	}
	if env.CorrelationID == "" {
		env.CorrelationID = env.EventID
	}
	if env.SchemaVersion == 0 {
		env.SchemaVersion = 1
	}
	return env, nil
}

func typeName(event any) string {
	t := reflect.TypeOf(event)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.String()
}

func eventStruct(event any) (reflect.Value, bool) {
	v := reflect.ValueOf(event)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	return v, true
}

// stringField returns the first named string field present on the event.
func stringField(event any, names ...string) string {
	v, ok := eventStruct(event)
	if !ok {
		return ""
	}
	for _, name := range names {
		f := v.FieldByName(name)
		if f.IsValid() && f.Kind() == reflect.String {
			return f.String()
		}
	}
	return ""
}

func timeField(event any, name string) time.Time {
	v, ok := eventStruct(event)
	if !ok {
		return time.Time{}
	}
	f := v.FieldByName(name)
	if !f.IsValid() {
		return time.Time{}
	}
	t, _ := f.Interface().(time.Time)
	return t
}
