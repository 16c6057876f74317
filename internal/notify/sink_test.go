package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/rentals/internal/store"
	"github.com/matthewbaird/rentals/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestStoreSink_OverdueIsDeduplicated(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sink := NewStoreSink(st, nil, zerolog.Nop())

	n := Notification{
		UserID:  "tenant-1",
		Title:   "Rent overdue",
		Message: "Rent for 2024-03 is overdue",
		Type:    types.NotificationOverdue,
		LeaseID: "lease-1",
		Period:  "2024-03",
	}
	for i := 0; i < 5; i++ {
		created, err := sink.Notify(ctx, n)
		require.NoError(t, err)
		assert.Equal(t, i == 0, created, "call %d", i)
	}

	count, err := st.CountNotifications(ctx, "lease-1", types.NotificationOverdue, "2024-03")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	n.Period = "2024-04"
	created, err := sink.Notify(ctx, n)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestStoreSink_OtherTypesAreNotDeduplicated(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sink := NewStoreSink(st, nil, zerolog.Nop())

	n := Notification{UserID: "tenant-1", Title: "Payment received", Type: types.NotificationPayment, LeaseID: "lease-1", Period: "2024-03"}
	for i := 0; i < 2; i++ {
		created, err := sink.Notify(ctx, n)
		require.NoError(t, err)
		assert.True(t, created)
	}
	list, err := st.ListNotifications(ctx, "tenant-1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestStoreSink_RequiresRecipient(t *testing.T) {
	sink := NewStoreSink(newTestStore(t), nil, zerolog.Nop())
	_, err := sink.Notify(context.Background(), Notification{Title: "orphan"})
	assert.Error(t, err)
}

func TestHub_PublishReachesSubscriber(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ch, cancel := hub.Subscribe("u1")
	assert.Equal(t, 1, hub.Subscribers("u1"))

	hub.Publish(&store.Notification{ID: "n1", UserID: "u1"})
	hub.Publish(&store.Notification{ID: "n2", UserID: "u2"})

	select {
	case n := <-ch:
		assert.Equal(t, "n1", n.ID)
	default:
		t.Fatal("expected a notification")
	}
	select {
	case n := <-ch:
		t.Fatalf("unexpected notification %s", n.ID)
	default:
	}

	cancel()
	cancel()
	assert.Equal(t, 0, hub.Subscribers("u1"))
}

func TestHub_ServeWSStreamsNotifications(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st := newTestStore(t)
	hub := NewHub(zerolog.Nop())
	sink := NewStoreSink(st, hub, zerolog.Nop())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, "tenant-1")
	}))
	defer srv.Close()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var hello map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &hello))
	assert.Equal(t, "hello", hello["type"])

	_, err = sink.Notify(ctx, Notification{UserID: "tenant-1", Title: "Payment received", Type: types.NotificationPayment})
	require.NoError(t, err)

	var msg struct {
		Type string             `json:"type"`
		Data store.Notification `json:"data"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "notification", msg.Type)
	assert.Equal(t, "Payment received", msg.Data.Title)
}
