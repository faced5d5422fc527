package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/modeldeps/internal/backend"
	"github.com/rcliao/modeldeps/internal/retry"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return New(Config{
		BaseURL:   ts.URL,
		AuthToken: "secret",
		RetryConfig: retry.Config{
			MaxAttempts: 3,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
		},
	})
}

func TestFindByPath(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/lookup", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if r.URL.Query().Get("path") != "models/wolf.obj" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "f-1"})
	}))

	id, err := c.FindByPath(context.Background(), "models/wolf.obj")
	require.NoError(t, err)
	assert.Equal(t, "f-1", id)

	_, err = c.FindByPath(context.Background(), "models/missing.obj")
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestListDirectory(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/list", r.URL.Path)
		assert.Equal(t, "models", r.URL.Query().Get("path"))
		assert.Equal(t, "true", r.URL.Query().Get("descendants"))
		w.Write([]byte(`{"files":[{"id":"a","name":"wolf.mtl","path":"models/wolf.mtl"}],"folders":[{"name":"Textures","path":"models/Textures"}]}`))
	}))

	l, err := c.ListDirectory(context.Background(), "models", true)
	require.NoError(t, err)
	require.Len(t, l.Files, 1)
	assert.Equal(t, "wolf.mtl", l.Files[0].Name)
	require.Len(t, l.Folders, 1)
	assert.Equal(t, "Textures", l.Folders[0].Name)
}

func TestFetchByID_RetriesServerErrors(t *testing.T) {
	var calls int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/content/f-9", r.URL.Path)
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("PNGDATA"))
	}))

	data, mimeType, err := c.FetchByID(context.Background(), "f-9")
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))
	assert.Equal(t, "image/png", mimeType)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchByID_StatusMapping(t *testing.T) {
	tests := []struct {
		code   int
		status backend.Status
		calls  int32
	}{
		{http.StatusNotFound, backend.StatusNotFound, 1},
		{http.StatusForbidden, backend.StatusForbidden, 1},
		{http.StatusUnauthorized, backend.StatusForbidden, 1},
		{http.StatusBadRequest, backend.StatusOther, 1},
		{http.StatusInternalServerError, backend.StatusOther, 3},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			var calls int32
			c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				http.Error(w, "nope", tt.code)
			}))

			_, _, err := c.FetchByID(context.Background(), "x")
			require.Error(t, err)
			assert.Equal(t, tt.status, backend.StatusOf(err))
			assert.Equal(t, tt.calls, atomic.LoadInt32(&calls))

			var se *backend.StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.code, se.Code)
			assert.False(t, retry.IsRetryable(err))
		})
	}
}

func TestSetAuthToken(t *testing.T) {
	var got atomic.Value
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		w.Write([]byte("ok"))
	}))
	c.SetAuthToken("")
	_, _, err := c.FetchByID(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "", got.Load())
}
