package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"azo/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Payload is what offline channel members receive on new messages.
type Payload struct {
	ChannelID   string `json:"channelId"`
	ChannelName string `json:"channelName"`
	From        string `json:"from"`
	Text        string `json:"text"`
}

type Config struct {
	// VAPID key pair; push is disabled when either is empty.
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact mailto/URL required by the push protocol.
	Subscriber string
}

// Notifier delivers web push notifications. A Notifier built without VAPID
// keys is inert: Send becomes a no-op so callers need no conditionals.
type Notifier struct {
	config Config
}

func New(config Config) *Notifier {
	return &Notifier{config: config}
}

func (n *Notifier) Enabled() bool {
	return n.config.VAPIDPublicKey != "" && n.config.VAPIDPrivateKey != ""
}

// Send pushes the payload to a single subscription. Failures are logged and
// returned but never affect message delivery itself.
func (n *Notifier) Send(sub models.PushSubscription, payload Payload) error {
	if !n.Enabled() {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	resp, err := webpush.SendNotification(body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      n.config.Subscriber,
		VAPIDPublicKey:  n.config.VAPIDPublicKey,
		VAPIDPrivateKey: n.config.VAPIDPrivateKey,
		TTL:             60,
	})
	if err != nil {
		slog.Error("push notification failed", "endpoint", sub.Endpoint, "error", err)
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}
