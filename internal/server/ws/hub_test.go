package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

func startHub(t *testing.T, cfg Config) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil, "market:events", slog.New(slog.DiscardHandler), cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	require.NoError(t, json.Unmarshal(data, v))
}

func encode(t *testing.T, ev domain.Event) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return data
}

func TestHubSendsStatusThenEvents(t *testing.T) {
	hub, url := startHub(t, Config{Mode: "Server", Seq: func() uint64 { return 7 }})
	conn := dial(t, url)

	var status struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	readJSON(t, conn, &status)
	assert.Equal(t, "status", status.Type)
	assert.Equal(t, "server", status.Payload["mode"])
	assert.EqualValues(t, 7, status.Payload["seq"])

	hub.Broadcast("market:events", encode(t, domain.Event{
		Seq:        8,
		Kind:       domain.EventListingCreated,
		EntityType: domain.EntityListing,
		EntityID:   3,
	}))
	var ev domain.Event
	readJSON(t, conn, &ev)
	assert.Equal(t, uint64(8), ev.Seq)
	assert.Equal(t, "listing:3", ev.EntityKey())
}

func TestHubFiltersByTopic(t *testing.T) {
	hub, url := startHub(t, Config{})
	conn := dial(t, url+"?topics=auction:*")

	var status map[string]any
	readJSON(t, conn, &status)

	hub.Broadcast("market:events", encode(t, domain.Event{Seq: 1, EntityType: domain.EntityProperty, EntityID: 1}))
	hub.Broadcast("market:events", encode(t, domain.Event{Seq: 2, EntityType: domain.EntityAuction, EntityID: 4}))

	var ev domain.Event
	readJSON(t, conn, &ev)
	assert.Equal(t, uint64(2), ev.Seq, "property event must be filtered out")
}

func TestHubReplaysBacklog(t *testing.T) {
	backlog := []domain.Event{
		{Seq: 5, EntityType: domain.EntityProperty, EntityID: 1},
		{Seq: 6, EntityType: domain.EntityProperty, EntityID: 2},
	}
	_, url := startHub(t, Config{Backlog: func(since uint64, _ int) []domain.Event {
		var out []domain.Event
		for _, ev := range backlog {
			if ev.Seq > since {
				out = append(out, ev)
			}
		}
		return out
	}})
	conn := dial(t, url+"?since=5")

	var status map[string]any
	readJSON(t, conn, &status)
	var ev domain.Event
	readJSON(t, conn, &ev)
	assert.Equal(t, uint64(6), ev.Seq)
}

func TestTopicOf(t *testing.T) {
	assert.Equal(t, "market:0", topicOf([]byte(`{"entity_type":"market","entity_id":0}`)))
	assert.Equal(t, "", topicOf([]byte(`not json`)))
}
