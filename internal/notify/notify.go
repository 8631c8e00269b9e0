// Package notify wraps the outbound delivery channels. Senders report an
// outcome instead of returning transport errors, so one user's broken
// endpoint never aborts a dispatch batch.
package notify

import "context"

// Result is the outcome of one delivery attempt.
type Result struct {
	OK  bool
	Err string
}

func Success() Result {
	return Result{OK: true}
}

func Failure(err error) Result {
	return Result{Err: err.Error()}
}

// PushPayload is the body handed to the push transport.
type PushPayload struct {
	Title string        `json:"title"`
	Body  string        `json:"body"`
	Data  PushAlertData `json:"data"`
}

type PushAlertData struct {
	AlertID string `json:"alertId"`
}

// PushSender delivers a payload to one push subscription.
type PushSender interface {
	SendPush(ctx context.Context, endpoint, p256dh, auth string, payload PushPayload) Result
}

// EmailSender delivers a message to one address.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) Result
}
