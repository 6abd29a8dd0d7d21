package api

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
    logrus "github.com/sirupsen/logrus"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so that events reach
// subscribers connected to any API instance.
type RedisBroker struct {
    rdb  *redis.Client
    mu   sync.Mutex
    subs map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    rdb := redis.NewClient(opt)
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := rdb.Ping(ctx).Err(); err != nil { _ = rdb.Close(); return nil, err }
    return &RedisBroker{rdb: rdb, subs: map[chan SSEEvent]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(roundID string) chan SSEEvent {
    ch := make(chan SSEEvent, 16)
    ctx := context.Background()
    ps := b.rdb.Subscribe(ctx, b.chanName(roundID))
    // initial consume to ensure subscription
    if _, err := ps.Receive(ctx); err != nil {
        logrus.WithField("component", "broker").WithError(err).Warn("redis subscribe")
    }
    b.mu.Lock()
    b.subs[ch] = ps
    b.mu.Unlock()
    msgs := ps.Channel()
    go func() {
        defer close(ch)
        for msg := range msgs {
            var evt SSEEvent
            if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
                select { case ch <- evt: default: }
            }
        }
    }()
    return ch
}

// Unsubscribe closes the PubSub; the forwarding goroutine then closes ch.
func (b *RedisBroker) Unsubscribe(roundID string, ch chan SSEEvent) {
    b.mu.Lock()
    ps, ok := b.subs[ch]
    delete(b.subs, ch)
    b.mu.Unlock()
    if ok { _ = ps.Close() }
}

func (b *RedisBroker) Publish(roundID string, evt SSEEvent) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, err := json.Marshal(evt)
    if err != nil { return }
    if err := b.rdb.Publish(ctx, b.chanName(roundID), data).Err(); err != nil {
        logrus.WithField("component", "broker").WithError(err).Warn("redis publish")
    }
}

func (b *RedisBroker) Close() error {
    b.mu.Lock()
    for ch, ps := range b.subs { _ = ps.Close(); delete(b.subs, ch) }
    b.mu.Unlock()
    return b.rdb.Close()
}

func (b *RedisBroker) chanName(roundID string) string { return "round:" + roundID }
