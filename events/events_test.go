package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestBusOrder(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(4)
	defer sub.Close()
	for _, s := range []string{"queued", "running", "done"} {
		b.Publish(Event{JobID: "a", New: s})
	}
	got := []string{}
	for i := 0; i < 3; i++ {
		e := <-sub.C
		got = append(got, e.New)
		require.False(t, e.Time.IsZero())
	}
	require.Equal(t, []string{"queued", "running", "done"}, got)
}

func TestBusDropsWhenFull(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(1)
	b.Publish(Event{JobID: "a"})
	b.Publish(Event{JobID: "b"})
	b.Publish(Event{JobID: "c"})
	require.Equal(t, uint64(2), sub.Dropped())
	e := <-sub.C
	require.Equal(t, "a", e.JobID)
}

func TestBusClose(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(1)
	b.Close()
	_, ok := <-sub.C
	require.False(t, ok)
	// no panic after close.
	b.Publish(Event{JobID: "a"})
	sub.Close()
	late := b.Subscribe(1)
	_, ok = <-late.C
	require.False(t, ok)
}

func TestHandler(t *testing.T) {
	b := NewBus()
	h := NewHandler(b, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return b.Len() == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, 1, h.ClientCount())
	b.Publish(Event{JobID: "render", Old: "queued", New: "running", Progress: 0.5})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e Event
	require.NoError(t, conn.ReadJSON(&e))
	require.Equal(t, "render", e.JobID)
	require.Equal(t, "running", e.New)
	require.Equal(t, 0.5, e.Progress)

	conn.Close()
	require.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 10*time.Millisecond)
}
