package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"goalline/internal/config"
	"goalline/internal/domain"
	"goalline/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// notificationDispatcher delivers unsent goal notifications to the webhooks
// configured in the rule set. A notification is marked sent only after every
// matching hook accepted it.
type notificationDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
}

// StartNotificationDispatcher begins background webhook delivery. It is a
// no-op when no webhooks are configured.
func StartNotificationDispatcher(e engine.Engine) {
	if e.Rules == nil || len(e.Rules.Notifications.Webhooks) == 0 {
		return
	}
	d := &notificationDispatcher{
		engine:   e,
		webhooks: e.Rules.Notifications.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
	}
	go d.run()
}

func (d *notificationDispatcher) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchPending()
		<-ticker.C
	}
}

func (d *notificationDispatcher) dispatchPending() {
	ctx := context.Background()
	pending, err := d.engine.Repo.ListNotifications(ctx, "", true, defaultWebhookBatch)
	if err != nil {
		log.Printf("webhook: fetch notifications failed: %v", err)
		return
	}
	for _, n := range pending {
		if !d.deliver(ctx, n) {
			continue
		}
		sentAt := d.engine.Now().UTC().Format(time.RFC3339)
		if err := d.engine.Repo.MarkNotificationSent(ctx, n.ID, sentAt); err != nil {
			log.Printf("webhook: mark sent %s failed: %v", n.ID, err)
		}
	}
}

// deliver posts the notification to every hook whose type filter matches.
// It returns false when any matching hook failed, so the notification stays
// unsent and is retried on the next tick.
func (d *notificationDispatcher) deliver(ctx context.Context, n domain.Notification) bool {
	ok := true
	for _, hook := range d.webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if !newTypeFilter(hook.Types).match(n.Type) {
			continue
		}
		if err := d.post(ctx, hook, n); err != nil {
			log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			ok = false
		}
	}
	return ok
}

type webhookNotification struct {
	ID        string `json:"id"`
	GoalID    string `json:"goal_id"`
	Type      string `json:"type"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

func (d *notificationDispatcher) post(ctx context.Context, hook config.WebhookConfig, n domain.Notification) error {
	data, err := json.Marshal(webhookNotification{
		ID:        n.ID,
		GoalID:    n.GoalID,
		Type:      n.Type,
		Recipient: n.Recipient,
		Message:   n.Message,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goalline-Notification", n.Type)
	req.Header.Set("X-Goalline-Delivery", n.ID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Goalline-Secret", hook.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type typeFilter struct {
	all bool
	set map[string]struct{}
}

func newTypeFilter(types []string) typeFilter {
	if len(types) == 0 {
		return typeFilter{all: true}
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		key := strings.TrimSpace(t)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return typeFilter{all: true}
	}
	return typeFilter{set: set}
}

func (f typeFilter) match(t string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[t]
	return ok
}
