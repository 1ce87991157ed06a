package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishReachesOnlyTheProject(t *testing.T) {
	h := NewHub()
	a, b := uuid.New(), uuid.New()

	evA, cancelA := h.Subscribe(a)
	defer cancelA()
	evB, cancelB := h.Subscribe(b)
	defer cancelB()

	h.Publish(Event{Type: EventTurn, ProjectID: a, Operation: "create", Success: true})

	select {
	case e := <-evA:
		assert.Equal(t, "create", e.Operation)
		assert.False(t, e.OccurredAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	select {
	case e := <-evB:
		t.Fatalf("unexpected event for other project: %+v", e)
	default:
	}
}

func TestPublishDropsForLaggingSubscriber(t *testing.T) {
	h := NewHub()
	p := uuid.New()
	events, cancel := h.Subscribe(p)
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		h.Publish(Event{ProjectID: p})
	}
	assert.Len(t, events, subscriberBuffer)
}

func TestCancelAndCloseAreIdempotent(t *testing.T) {
	h := NewHub()
	p := uuid.New()
	events, cancel := h.Subscribe(p)
	cancel()
	cancel()
	_, ok := <-events
	assert.False(t, ok)
	assert.Zero(t, h.subscribers(p))

	events, cancel = h.Subscribe(p)
	h.Close()
	cancel()
	_, ok = <-events
	assert.False(t, ok)

	late, _ := h.Subscribe(p)
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed hub yields a closed channel")
}

func TestServeStreamsEvents(t *testing.T) {
	h := NewHub()
	project := uuid.New()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Serve(r.Context(), conn, project)
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.subscribers(project) == 1 }, time.Second, 5*time.Millisecond)
	sceneID := uuid.New()
	h.Publish(Event{Type: EventTurn, ProjectID: project, Operation: "edit", SceneID: sceneID, Success: true, Summary: "Edited scene 1"})

	var got Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, sceneID, got.SceneID)
	assert.Equal(t, "Edited scene 1", got.Summary)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.subscribers(project) == 0 }, 2*time.Second, 5*time.Millisecond)
}
