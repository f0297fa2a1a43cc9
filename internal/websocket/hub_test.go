package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jogardn/food-delivery/internal/auth"
	"github.com/jogardn/food-delivery/pkg/models"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// withUser stands in for the auth middleware: the user id comes from ?user=.
func withUser(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.URL.Query().Get("user"); raw != "" {
			id, _ := strconv.ParseInt(raw, 10, 64)
			r = r.WithContext(auth.WithIdentity(r.Context(), auth.Identity{UserID: id, Role: models.RoleCourier}))
		}
		next(w, r)
	})
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(withUser(hub.HandleWebSocket))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, hub.GetClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSendToReachesOnlyTargetedUsers(t *testing.T) {
	hub, server := startHub(t)
	courier := dial(t, server, "7")
	other := dial(t, server, "8")
	waitForClients(t, hub, 2)

	reached := hub.SendTo([]int64{7, 99}, "notification", map[string]string{"title": "New order"})
	if reached != 1 {
		t.Errorf("Expected 1 user reached, got %d", reached)
	}

	courier.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := courier.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to decode message: %v", err)
	}
	if msg.Type != "notification" || msg.Data["title"] != "New order" {
		t.Errorf("Unexpected message %s", data)
	}

	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Error("Expected untargeted user to receive nothing")
	}
}

func TestMultipleSessionsPerUser(t *testing.T) {
	hub, server := startHub(t)
	dial(t, server, "5")
	dial(t, server, "5")
	waitForClients(t, hub, 2)

	if reached := hub.SendTo([]int64{5}, "ping", nil); reached != 1 {
		t.Errorf("Expected one user reached, got %d", reached)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server, "3")
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
	if reached := hub.SendTo([]int64{3}, "ping", nil); reached != 0 {
		t.Errorf("Expected nobody reached, got %d", reached)
	}
}

func TestRejectsAnonymousUpgrade(t *testing.T) {
	_, server := startHub(t)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Expected anonymous dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %v", resp)
	}
}

func TestOriginCheck(t *testing.T) {
	hub := NewHub([]string{"https://app.example.com"}, quietLogger())

	allowed := httptest.NewRequest(http.MethodGet, "/ws", nil)
	allowed.Header.Set("Origin", "https://app.example.com")
	denied := httptest.NewRequest(http.MethodGet, "/ws", nil)
	denied.Header.Set("Origin", "https://evil.example.com")

	if !hub.upgrader.CheckOrigin(allowed) {
		t.Error("Expected configured origin to be accepted")
	}
	if hub.upgrader.CheckOrigin(denied) {
		t.Error("Expected foreign origin to be rejected")
	}
}
