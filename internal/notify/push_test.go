package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitfriends/messaging/internal/testutil"
)

func TestPushDispatcherNotifyNewMessage(t *testing.T) {
	t.Run("posts the notification payload", func(t *testing.T) {
		var got notifyRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/notify", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		d := NewPushDispatcher(srv.URL, testutil.TestLogger(t))
		err := d.NotifyNewMessage(context.Background(), []int{2, 3}, "conv-1", 1, "hello")
		require.NoError(t, err)

		assert.Equal(t, []int{2, 3}, got.RecipientIds)
		assert.Equal(t, "conv-1", got.ConversationId)
		assert.Equal(t, 1, got.SenderId)
		assert.Equal(t, "hello", got.Excerpt)
	})

	t.Run("non-2xx status is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		d := NewPushDispatcher(srv.URL, testutil.TestLogger(t))
		err := d.NotifyNewMessage(context.Background(), []int{2}, "conv-1", 1, "hello")
		assert.Error(t, err)
	})

	t.Run("unreachable gateway is an error", func(t *testing.T) {
		d := NewPushDispatcher("http://127.0.0.1:0", testutil.TestLogger(t))
		err := d.NotifyNewMessage(context.Background(), []int{2}, "conv-1", 1, "hello")
		assert.Error(t, err)
	})
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", Excerpt("short"))

	long := strings.Repeat("a", 200)
	assert.Len(t, Excerpt(long), maxExcerptLen)

	// truncation respects rune boundaries
	unicode := strings.Repeat("é", 100)
	assert.Equal(t, strings.Repeat("é", maxExcerptLen), Excerpt(unicode))
}
