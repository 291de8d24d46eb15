package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherPost(t *testing.T) {
	var gotAuth string
	var gotEvent Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotEvent))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer srv.Close()

	d := NewDispatcher(2 * time.Second)
	res, err := d.Post(context.Background(), srv.URL, map[string]string{"Authorization": "Bearer t0k"}, Event{
		BotID:      "bot-1",
		UserID:     42,
		StateKey:   "welcome",
		OccurredAt: time.Now().UTC(),
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, `{"received":true}`, res.Body)
	assert.Equal(t, "Bearer t0k", gotAuth)
	assert.Equal(t, "bot-1", gotEvent.BotID)
	assert.Equal(t, int64(42), gotEvent.UserID)
}

func TestDispatcherPostNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream broken"))
	}))
	defer srv.Close()

	d := NewDispatcher(2 * time.Second)
	res, err := d.Post(context.Background(), srv.URL, nil, Event{BotID: "bot-1"})

	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, "upstream broken", res.Body)
}

func TestDispatcherPostUnreachable(t *testing.T) {
	d := NewDispatcher(500 * time.Millisecond)
	_, err := d.Post(context.Background(), "http://127.0.0.1:1/hook", nil, Event{})
	require.Error(t, err)
}
