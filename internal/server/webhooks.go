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

	"branchline/internal/config"
	"branchline/internal/domain"
	"branchline/internal/notify"
)

const defaultWebhookTimeout = 5 * time.Second

type webhookForwarder struct {
	webhooks []config.WebhookConfig
	client   *http.Client
	source   <-chan domain.Notification
}

// StartWebhookForwarder drains the notification channel and posts each
// payload to the configured webhooks. Delivery is best effort: a failed
// post is logged and the notification is gone.
func StartWebhookForwarder(cfg *config.Config, emitter *notify.ChannelEmitter) {
	if cfg == nil || emitter == nil || len(cfg.Notifications.Webhooks) == 0 {
		return
	}
	f := &webhookForwarder{
		webhooks: cfg.Notifications.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		source:   emitter.C(),
	}
	go f.run()
}

func (f *webhookForwarder) run() {
	for n := range f.source {
		for _, hook := range f.webhooks {
			if hook.Enabled != nil && !*hook.Enabled {
				continue
			}
			if strings.TrimSpace(hook.URL) == "" {
				continue
			}
			if !typeMatch(hook.Types, n.Type) {
				continue
			}
			if err := f.post(context.Background(), hook, n); err != nil {
				log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			}
		}
	}
}

type webhookPayload struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
	TaskID    string `json:"task_id,omitempty"`
	Message   string `json:"message"`
}

func (f *webhookForwarder) post(ctx context.Context, hook config.WebhookConfig, n domain.Notification) error {
	data, err := json.Marshal(webhookPayload{
		Type:      n.Type,
		UserID:    n.UserID,
		ProjectID: n.ProjectID,
		TaskID:    n.TaskID,
		Message:   n.Message,
	})
	if err != nil {
		return err
	}
	client := f.client
	if hook.TimeoutSeconds > 0 {
		timeout := time.Duration(hook.TimeoutSeconds) * time.Second
		if timeout != f.client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Branchline-Notification", n.Type)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Branchline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
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

func typeMatch(types []string, t string) bool {
	if len(types) == 0 {
		return true
	}
	for _, candidate := range types {
		if strings.TrimSpace(candidate) == t {
			return true
		}
	}
	return false
}
