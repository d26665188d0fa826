package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/workhistory/history-migrator/internal/config"
	"github.com/workhistory/history-migrator/internal/events"
)

const defaultWebhookTimeout = 5 * time.Second

// NotificationService relays migration events to operators: every event is
// logged, and failures and discarded source events are posted to the
// configured webhook.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	webhookURL string
	timeout    time.Duration
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	timeout := defaultWebhookTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		webhookURL: strings.TrimSpace(cfg.WebhookURL),
		timeout:    timeout,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventItemMigrated, n.handleItemMigrated)
	n.dispatcher.Subscribe(events.EventItemFailed, n.handleItemFailed)
	n.dispatcher.Subscribe(events.EventEventDiscarded, n.handleEventDiscarded)
}

func (n *NotificationService) handleItemMigrated(_ context.Context, event events.Event) error {
	n.logger.Debug("item migrated", zap.String("item_id", event.ItemID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) handleItemFailed(ctx context.Context, event events.Event) error {
	n.logger.Info("item failed", zap.String("item_id", event.ItemID), zap.Any("payload", event.Payload))
	return n.postWebhook(ctx, event)
}

func (n *NotificationService) handleEventDiscarded(ctx context.Context, event events.Event) error {
	n.logger.Info("source event discarded", zap.String("item_id", event.ItemID), zap.Any("payload", event.Payload))
	return n.postWebhook(ctx, event)
}

// postWebhook delivers the event as JSON. Delivery is best effort: errors are
// returned to the dispatcher, which logs them without failing the item.
func (n *NotificationService) postWebhook(ctx context.Context, event events.Event) error {
	if n.webhookURL == "" {
		return nil
	}
	timeout := n.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return ctx.Err()
	}

	agent := fiber.Post(n.webhookURL).
		Timeout(timeout).
		Set("X-Event-Type", string(event.Type)).
		JSON(event)
	if err := agent.Parse(); err != nil {
		return fmt.Errorf("webhook %s: %w", event.Type, err)
	}
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("webhook %s: %w", event.Type, errs[0])
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("webhook %s: status %d: %s", event.Type, code, strings.TrimSpace(string(body)))
	}
	n.logger.Debug("webhook delivered",
		zap.String("item_id", event.ItemID),
		zap.String("event_type", string(event.Type)))
	return nil
}
