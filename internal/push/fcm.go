// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package push

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/chatrelay-io/chatrelay/internal/logging"
)

// androidTTL bounds how long FCM holds an undelivered message for an
// offline device.
const androidTTL = 24 * time.Hour

// Payload is one notification to deliver across a user's devices.
type Payload struct {
	Title string
	Body  string
	Data  map[string]string
	Badge int
}

// SendResult is the per-token outcome of a multicast. The sender
// classifies failures: Permanent means the token is dead (unregistered,
// invalid) and must be deactivated.
type SendResult struct {
	Token     string
	Err       error
	Permanent bool
}

// MulticastSender abstracts the push provider so the dispatcher and its
// tests need no live credentials.
type MulticastSender interface {
	SendMulticast(ctx context.Context, tokens []string, p *Payload) ([]SendResult, error)
}

// FCMSender sends through Firebase Cloud Messaging.
type FCMSender struct {
	client *messaging.Client
}

// NewFCMSender initializes the Firebase app from a service account file.
func NewFCMSender(ctx context.Context, credentialsFile string) (*FCMSender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging client: %w", err)
	}
	logging.Info().Msg("push provider initialized")
	return &FCMSender{client: client}, nil
}

// SendMulticast delivers one payload to all tokens in a single request.
func (s *FCMSender) SendMulticast(ctx context.Context, tokens []string, p *Payload) ([]SendResult, error) {
	badge := p.Badge
	ttl := androidTTL
	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: p.Title,
			Body:  p.Body,
		},
		Data: p.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Badge: &badge,
					Sound: "default",
				},
			},
		},
	}

	br, err := s.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return nil, err
	}

	results := make([]SendResult, len(br.Responses))
	for i, resp := range br.Responses {
		results[i] = SendResult{Token: tokens[i], Err: resp.Error}
		if resp.Error != nil {
			results[i].Permanent = permanentFailure(resp.Error)
		}
	}
	return results, nil
}

// permanentFailure reports whether a per-token error means the token is
// dead and must be deactivated, as opposed to a transient provider
// condition worth keeping the token through.
func permanentFailure(err error) bool {
	return messaging.IsUnregistered(err) ||
		messaging.IsInvalidArgument(err) ||
		messaging.IsSenderIDMismatch(err)
}
