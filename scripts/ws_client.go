// Package main seeds a demo zone, plans a round and follows its events over
// WebSocket while posting a courier position.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	logrus "github.com/sirupsen/logrus"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var base string

// call posts body as the demo admin and decodes the response into out.
func call(method, path string, body, out any) {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(method, base+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logrus.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		var p map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&p)
		logrus.WithField("status", resp.StatusCode).Fatalf("%s %s: %v", method, path, p)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			logrus.Fatal(err)
		}
	}
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base = fmt.Sprintf("http://localhost:%s", port)

	var zone struct{ ID string }
	call(http.MethodPost, "/v1/zones", map[string]any{"name": "Demo", "depot": map[string]float64{"lat": 48.8566, "lng": 2.3522}}, &zone)
	for i := 0; i < 2; i++ {
		var v, c struct{ ID string }
		call(http.MethodPost, "/v1/vehicles", map[string]any{"plate": fmt.Sprintf("DEMO-%d", i), "capacityKg": 20}, &v)
		call(http.MethodPost, "/v1/couriers", map[string]any{"name": fmt.Sprintf("Courier %d", i), "vehicleId": v.ID}, &c)
	}
	var pkgs []map[string]any
	for i := 0; i < 8; i++ {
		pkgs = append(pkgs, map[string]any{
			"zoneId":    zone.ID,
			"reference": fmt.Sprintf("PKG-%02d", i),
			"recipient": fmt.Sprintf("Recipient %d", i),
			"location":  map[string]float64{"lat": 48.84 + float64(i)*0.005, "lng": 2.33 + float64(i%3)*0.01},
			"weightKg":  4,
		})
	}
	call(http.MethodPost, "/v1/packages", map[string]any{"packages": pkgs}, nil)

	var round struct {
		ID     string
		Routes []struct {
			CourierID string `json:"courierId"`
		}
	}
	call(http.MethodPost, "/v1/rounds/plan", map[string]any{"zoneId": zone.ID, "algorithm": "ClarkeWright"}, &round)
	logrus.WithFields(logrus.Fields{"round": round.ID, "routes": len(round.Routes)}).Info("round planned")
	if len(round.Routes) == 0 {
		logrus.Fatal("no routes returned")
	}

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/rounds/" + round.ID + "/events/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		logrus.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		logrus.Fatal(err)
	}
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: json.RawMessage(`{}`)}); err != nil {
		logrus.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				logrus.WithError(err).Info("read")
				return
			}
			logrus.Infof("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	time.Sleep(500 * time.Millisecond)
	call(http.MethodPost, "/v1/rounds/"+round.ID+"/location", map[string]any{"courierId": round.Routes[0].CourierID, "lat": 48.85, "lng": 2.34}, nil)

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
