// Package serialization provides a registry-based system for serializing and
// deserializing domain events in the event bus infrastructure. It acts as a
// translation layer between domain objects and their JSON wire format.
//
// Serialization/deserialization functions are registered per event type, which
// keeps the domain layer clean of wire concerns and lets new event types be
// added without touching existing code.
package serialization

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/events"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SerializeFunc converts a domain object into a serialized byte slice.
type SerializeFunc func(payload any) ([]byte, error)

// DeserializeFunc converts a serialized byte slice back into a domain object.
type DeserializeFunc func(data []byte) (any, error)

// Global registries map event types to their serialization functions.
var (
	serializerRegistry   = map[events.EventType]SerializeFunc{}
	deserializerRegistry = map[events.EventType]DeserializeFunc{}
)

// RegisterSerializeFunc registers a serialization function for a given event type.
func RegisterSerializeFunc(eventType events.EventType, fn SerializeFunc) {
	serializerRegistry[eventType] = fn
}

// RegisterDeserializeFunc registers a deserialization function for a given event type.
func RegisterDeserializeFunc(eventType events.EventType, fn DeserializeFunc) {
	deserializerRegistry[eventType] = fn
}

// RegisterJSONEvent wires both directions for a payload type whose wire format
// is its plain JSON encoding.
func RegisterJSONEvent[T any](eventType events.EventType) {
	RegisterSerializeFunc(eventType, func(payload any) ([]byte, error) {
		concrete, ok := payload.(T)
		if !ok {
			return nil, fmt.Errorf("serialize %s: unexpected payload type %T", eventType, payload)
		}
		return json.Marshal(concrete)
	})
	RegisterDeserializeFunc(eventType, func(data []byte) (any, error) {
		var concrete T
		if err := json.Unmarshal(data, &concrete); err != nil {
			return nil, fmt.Errorf("deserialize %s: %w", eventType, err)
		}
		return concrete, nil
	})
}

// wireEnvelope is the on-the-wire shape of every published event.
type wireEnvelope struct {
	Type      string              `json:"type"`
	Key       string              `json:"key,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Payload   jsoniter.RawMessage `json:"payload"`
}

// SerializeEventEnvelope encodes an event type plus payload into the wire
// envelope. Returns an error if no serializer is registered for the type.
func SerializeEventEnvelope(eventType events.EventType, payload any) ([]byte, error) {
	fn, ok := serializerRegistry[eventType]
	if !ok {
		return nil, fmt.Errorf("no serializer registered for eventType=%s", eventType)
	}

	payloadBytes, err := fn(payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(wireEnvelope{
		Type:      string(eventType),
		Timestamp: time.Now().UTC(),
		Payload:   payloadBytes,
	})
}

// DeserializeEventEnvelope decodes wire bytes back into an event envelope with
// a concrete domain payload.
func DeserializeEventEnvelope(data []byte) (events.EventEnvelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return events.EventEnvelope{}, fmt.Errorf("decoding event envelope: %w", err)
	}

	eventType := events.EventType(wire.Type)
	fn, ok := deserializerRegistry[eventType]
	if !ok {
		return events.EventEnvelope{}, fmt.Errorf("no deserializer registered for eventType=%s", eventType)
	}

	payload, err := fn(wire.Payload)
	if err != nil {
		return events.EventEnvelope{}, err
	}

	return events.EventEnvelope{
		Type:      eventType,
		Key:       wire.Key,
		Timestamp: wire.Timestamp,
		Payload:   payload,
	}, nil
}
