package api

import (
    "encoding/json"
    "net/http"
    "slices"
    "sync"
    "time"

    "github.com/gorilla/websocket"
    logrus "github.com/sirupsen/logrus"
)

// Round events over WebSocket, using the graphql-transport-ws message
// framing: connection_init/ack, subscribe, next, complete, ping/pong.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
    Type    string          `json:"type"`
    ID      string          `json:"id,omitempty"`
    Payload json.RawMessage `json:"payload,omitempty"`
}

// subscribePayload optionally restricts a subscription to event types.
type subscribePayload struct {
    Events []string `json:"events"`
}

// roundEventsWS streams events of one round; the caller was authorized for
// the round before the upgrade.
func (s *Server) roundEventsWS(w http.ResponseWriter, r *http.Request, roundID string) {
    conn, err := upgrader.Upgrade(w, r, nil)
    if err != nil {
        return
    }
    defer func() { _ = conn.Close() }()
    log := logrus.WithFields(logrus.Fields{"component": "api", "round": roundID})

    // gorilla connections allow one concurrent writer
    var wmu sync.Mutex
    write := func(v any) error {
        wmu.Lock()
        defer wmu.Unlock()
        _ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
        return conn.WriteJSON(v)
    }

    type sub struct {
        ch chan SSEEvent
    }
    subs := map[string]sub{}
    done := make(chan struct{})
    var wg sync.WaitGroup
    defer func() {
        close(done)
        for id, s0 := range subs {
            s.Broker.Unsubscribe(roundID, s0.ch)
            delete(subs, id)
        }
        wg.Wait()
    }()

    conn.SetReadLimit(1 << 20)
    _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
    conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

    acked := false
    for {
        var msg wsMessage
        if err := conn.ReadJSON(&msg); err != nil {
            if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
                log.WithError(err).Debug("websocket closed")
            }
            return
        }
        _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
        switch msg.Type {
        case "connection_init":
            if acked {
                continue
            }
            acked = true
            _ = write(wsMessage{Type: "connection_ack"})
            wg.Add(1)
            go func() {
                defer wg.Done()
                ticker := time.NewTicker(20 * time.Second)
                defer ticker.Stop()
                for {
                    select {
                    case <-done:
                        return
                    case <-ticker.C:
                        if err := write(wsMessage{Type: "ping"}); err != nil {
                            return
                        }
                    }
                }
            }()
        case "ping":
            _ = write(wsMessage{Type: "pong"})
        case "subscribe":
            if !acked {
                _ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"connection_init required"}`)})
                continue
            }
            if _, dup := subs[msg.ID]; dup || msg.ID == "" {
                _ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"subscription id missing or in use"}`)})
                continue
            }
            var pl subscribePayload
            if len(msg.Payload) > 0 {
                _ = json.Unmarshal(msg.Payload, &pl)
            }
            ch := s.Broker.Subscribe(roundID)
            subs[msg.ID] = sub{ch: ch}
            wg.Add(1)
            go func(id string, c chan SSEEvent, types []string) {
                defer wg.Done()
                for evt := range c {
                    if len(types) > 0 && !slices.Contains(types, evt.Type) {
                        continue
                    }
                    payload, _ := json.Marshal(map[string]any{"data": evt})
                    if err := write(wsMessage{Type: "next", ID: id, Payload: payload}); err != nil {
                        return
                    }
                }
                _ = write(wsMessage{Type: "complete", ID: id})
            }(msg.ID, ch, pl.Events)
        case "complete":
            if s0, ok := subs[msg.ID]; ok {
                s.Broker.Unsubscribe(roundID, s0.ch)
                delete(subs, msg.ID)
            }
        }
    }
}
