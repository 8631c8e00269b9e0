package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// WebPushSender sends browser push notifications signed with VAPID keys.
type WebPushSender struct {
	subscriber string // contact URI reported to the push service
	publicKey  string
	privateKey string
	ttl        int
}

func NewWebPushSender(subscriber, publicKey, privateKey string) *WebPushSender {
	return &WebPushSender{
		subscriber: subscriber,
		publicKey:  publicKey,
		privateKey: privateKey,
		ttl:        int((30 * time.Minute).Seconds()),
	}
}

func (s *WebPushSender) SendPush(ctx context.Context, endpoint, p256dh, auth string, payload PushPayload) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return Failure(fmt.Errorf("encoding push payload: %w", err))
	}

	sub := &webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			P256dh: p256dh,
			Auth:   auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, sub, &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             s.ttl,
	})
	if err != nil {
		return Failure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Failure(fmt.Errorf("push service returned status %d", resp.StatusCode))
	}
	return Success()
}
