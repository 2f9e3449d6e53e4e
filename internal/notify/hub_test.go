package notify

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"socialhub/internal/models"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestHub_PublishFanOut(t *testing.T) {
	hub := NewHub(4, testLogger())
	a, ok := hub.Subscribe()
	require.True(t, ok)
	b, ok := hub.Subscribe()
	require.True(t, ok)
	assert.Equal(t, 2, hub.Count())

	hub.Publish(StatusUpdate("m1", models.StatusRead, "+15550100"))

	for _, sub := range []*Subscription{a, b} {
		select {
		case ev := <-sub.C:
			assert.Equal(t, models.EventStatusUpdate, ev.Type)
			assert.NotZero(t, ev.Timestamp)
			data, ok := ev.Data.(StatusUpdateData)
			require.True(t, ok)
			assert.Equal(t, "m1", data.MessageID)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestHub_PerSubscriberOrder(t *testing.T) {
	hub := NewHub(8, testLogger())
	sub, _ := hub.Subscribe()

	hub.Publish(NewMessage(models.Message{ID: "m1", ContactID: "+1"}))
	hub.Publish(ContactUpdate(models.ContactSummary{ContactID: "+1", DisplayName: "Ann"}))

	first := <-sub.C
	second := <-sub.C
	assert.Equal(t, models.EventNewMessage, first.Type)
	assert.Equal(t, models.EventContactUpdate, second.Type)
}

func TestHub_SlowSubscriberDisconnected(t *testing.T) {
	hub := NewHub(1, testLogger())
	slow, _ := hub.Subscribe()
	fast, _ := hub.Subscribe()

	hub.Publish(Event{Type: "one"})
	<-fast.C
	hub.Publish(Event{Type: "two"})

	assert.Equal(t, 1, hub.Count())

	ev, open := <-slow.C
	assert.True(t, open)
	assert.Equal(t, "one", ev.Type)
	_, open = <-slow.C
	assert.False(t, open, "slow subscriber channel must be closed")

	ev = <-fast.C
	assert.Equal(t, "two", ev.Type)
}

func TestHub_UnsubscribeTwice(t *testing.T) {
	hub := NewHub(1, testLogger())
	sub, _ := hub.Subscribe()

	hub.Unsubscribe(sub)
	assert.NotPanics(t, func() { hub.Unsubscribe(sub) })
	assert.NotPanics(t, func() { hub.Publish(Event{Type: "x"}) })
	assert.Equal(t, 0, hub.Count())
}

func TestHub_SubscriberLimit(t *testing.T) {
	hub := NewHub(1, testLogger())
	hub.maxSubs = 1

	_, ok := hub.Subscribe()
	require.True(t, ok)
	_, ok = hub.Subscribe()
	assert.False(t, ok)
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(1, testLogger())
	sub, _ := hub.Subscribe()
	hub.Close()

	_, open := <-sub.C
	assert.False(t, open)
	assert.Equal(t, 0, hub.Count())
}

func TestWebSocketHandler_StreamsEvents(t *testing.T) {
	hub := NewHub(8, testLogger())
	srv := httptest.NewServer(NewWebSocketHandler(hub, nil, testLogger()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(NewMessage(models.Message{ID: "wamid.1", ContactID: "+15550100", Text: "hi"}))

	var got struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, models.EventNewMessage, got.Type)

	var data NewMessageData
	require.NoError(t, json.Unmarshal(got.Data, &data))
	assert.Equal(t, "+15550100", data.ContactID)
	assert.Equal(t, "wamid.1", data.Message.ID)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
