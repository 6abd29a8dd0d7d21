package store

import "time"

// Delivery states. pending and retry are due once NextAttemptAt passes;
// failed rows are also copied to the dead-letter table.
const (
    DeliveryPending   = "pending"
    DeliveryRetry     = "retry"
    DeliveryDelivered = "delivered"
    DeliveryFailed    = "failed"
)

// WebhookDelivery is one signed POST of a round event to a subscriber.
type WebhookDelivery struct {
    ID             string
    TenantID       string
    SubscriptionID string
    EventType      string
    URL            string
    Secret         string
    Payload        []byte
    Status         string
    Attempts       int
}

// Due reports whether the delivery should be attempted at now.
func (d WebhookDelivery) Due(next, now time.Time) bool {
    return (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !next.After(now)
}

// FinalAttempt reports whether a failure of the upcoming attempt exhausts maxAttempts.
func (d WebhookDelivery) FinalAttempt(maxAttempts int) bool { return d.Attempts+1 >= maxAttempts }
