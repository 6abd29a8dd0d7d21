package webhooks

import (
    "context"
    "encoding/json"
    "time"

    "github.com/google/uuid"
    logrus "github.com/sirupsen/logrus"

    "tourplan/internal/store"
)

// Publisher fans a planning event out to the tenant's webhook subscriptions.
type Publisher struct {
    Store store.Store
    log   *logrus.Entry
}

func NewPublisher(s store.Store) *Publisher {
    return &Publisher{Store: s, log: logrus.WithField("component", "webhooks")}
}

// Emit enqueues one signed delivery per subscription matching tenantID and
// eventType. Delivery itself happens in the Worker.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data any) {
    subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, eventType)
    if err != nil {
        p.logger().WithError(err).WithField("event", eventType).Warn("subscription lookup failed")
        return
    }
    if len(subs) == 0 {
        return
    }
    payload := map[string]any{
        "id":       "evt_" + uuid.NewString(),
        "type":     eventType,
        "tenantId": tenantID,
        "ts":       time.Now().UTC().Format(time.RFC3339),
        "data":     data,
    }
    body, err := json.Marshal(payload)
    if err != nil {
        p.logger().WithError(err).WithField("event", eventType).Error("encode webhook payload")
        return
    }
    for _, s := range subs {
        if _, err := p.Store.EnqueueWebhook(ctx, tenantID, s.ID, eventType, s.URL, s.Secret, body); err != nil {
            p.logger().WithError(err).WithFields(logrus.Fields{"event": eventType, "subscription": s.ID}).Warn("enqueue webhook")
        }
    }
}

func (p *Publisher) logger() *logrus.Entry {
    if p.log == nil {
        return logrus.WithField("component", "webhooks")
    }
    return p.log
}
