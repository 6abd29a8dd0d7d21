package api

import (
    "sync"
)

type SSEEvent struct {
    Type string         `json:"type"`
    Data map[string]any `json:"data"`
}

// EventBroker fans round events out to SSE and WebSocket subscribers.
type EventBroker interface {
    Subscribe(roundID string) chan SSEEvent
    Unsubscribe(roundID string, ch chan SSEEvent)
    Publish(roundID string, evt SSEEvent)
}

type Broker struct {
    mu      sync.Mutex
    subs    map[string]map[chan SSEEvent]struct{} // roundId -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(roundID string) chan SSEEvent {
    ch := make(chan SSEEvent, 8)
    b.mu.Lock()
    if b.subs[roundID] == nil { b.subs[roundID] = map[chan SSEEvent]struct{}{} }
    b.subs[roundID][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

// Unsubscribe closes ch once; repeated calls are no-ops.
func (b *Broker) Unsubscribe(roundID string, ch chan SSEEvent) {
    b.mu.Lock()
    defer b.mu.Unlock()
    m := b.subs[roundID]
    if _, ok := m[ch]; !ok { return }
    delete(m, ch)
    if len(m) == 0 { delete(b.subs, roundID) }
    close(ch)
}

// Publish drops the event for subscribers whose buffer is full.
func (b *Broker) Publish(roundID string, evt SSEEvent) {
    b.mu.Lock()
    m := b.subs[roundID]
    for ch := range m {
        select { case ch <- evt: default: }
    }
    b.mu.Unlock()
}

func (b *Broker) Close() error { return nil }
