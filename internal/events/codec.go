// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// ErrMalformed marks payloads that failed to decode or validate. Consumers
// route messages carrying this error to the dead-letter queue instead of
// retrying them: a malformed payload never becomes well-formed.
var ErrMalformed = errors.New("malformed event payload")

// validate is the shared validator instance. validator.Validate is
// goroutine-safe and caches struct metadata, so one instance serves all
// decodes.
var validate = validator.New(validator.WithRequiredStructEnabled())

// typeOf maps a payload value to its envelope type tag.
func typeOf(payload any) (Type, error) {
	switch payload.(type) {
	case *ChatMessage:
		return TypeChatMessage, nil
	case *UserEvent:
		return TypeUserEvent, nil
	case *NotificationEvent:
		return TypeNotification, nil
	case *AnalyticsEvent:
		return TypeAnalytics, nil
	case *DeadLetterEnvelope:
		return TypeDeadLetter, nil
	default:
		return "", fmt.Errorf("unsupported payload type %T", payload)
	}
}

// Marshal wraps a payload in a versioned envelope and encodes it.
func Marshal(payload any) ([]byte, error) {
	t, err := typeOf(payload)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}

	env := Envelope{
		SchemaVersion: SchemaVersion,
		Type:          t,
		OccurredAt:    time.Now().UTC(),
		Payload:       raw,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", t, err)
	}
	return data, nil
}

// DecodeEnvelope decodes the outer frame without touching the payload.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: envelope missing type tag", ErrMalformed)
	}
	if env.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d newer than supported %d",
			ErrMalformed, env.SchemaVersion, SchemaVersion)
	}
	return &env, nil
}

// decodePayload unmarshals and validates an envelope payload into out.
func decodePayload(env *Envelope, want Type, out any) error {
	if env.Type != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrMalformed, want, env.Type)
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, want, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %s validation: %v", ErrMalformed, want, err)
	}
	return nil
}

// DecodeChatMessage decodes and validates a chat message from raw bytes.
func DecodeChatMessage(data []byte) (*ChatMessage, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	var m ChatMessage
	if err := decodePayload(env, TypeChatMessage, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeUserEvent decodes and validates a user event from raw bytes.
func DecodeUserEvent(data []byte) (*UserEvent, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	var e UserEvent
	if err := decodePayload(env, TypeUserEvent, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// DecodeNotificationEvent decodes and validates a notification event.
func DecodeNotificationEvent(data []byte) (*NotificationEvent, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	var e NotificationEvent
	if err := decodePayload(env, TypeNotification, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// DecodeAnalyticsEvent decodes and validates an analytics event.
func DecodeAnalyticsEvent(data []byte) (*AnalyticsEvent, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	var e AnalyticsEvent
	if err := decodePayload(env, TypeAnalytics, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// IsMalformed reports whether err marks a payload as undecodable.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}
