package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAndParseJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "vaultpulse", r.Header.Get("User-Agent"))
		assert.Equal(t, "1", r.URL.Query().Get("v"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["type"]})
	}))
	defer srv.Close()

	c := NewClient(WithTimeout(time.Second))
	var out map[string]string
	err := c.SendAndParse(t.Context(), &RequestOptions{
		Method: MethodPost,
		URL:    srv.URL,
		Query:  url.Values{"v": {"1"}},
		Body:   map[string]string{"type": "allMids"},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "allMids", out["echo"])
}

func TestSendAndParseStatusError(t *testing.T) {
	codes := []int{http.StatusBadRequest, http.StatusTooManyRequests, http.StatusBadGateway}
	for _, code := range codes {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", code)
		}))
		err := NewClient().SendAndParse(t.Context(), &RequestOptions{URL: srv.URL}, nil)
		srv.Close()

		var se *StatusError
		require.True(t, errors.As(err, &se), "code %d", code)
		assert.Equal(t, code, se.Code)
		assert.Equal(t, "nope", se.Body)
		assert.Equal(t, code == http.StatusBadRequest, IsClientError(err), "code %d", code)
		assert.Equal(t, code != http.StatusBadRequest, se.Retryable(), "code %d", code)
	}
}

func TestSendAndParseRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	var raw []byte
	require.NoError(t, NewClient().SendAndParse(t.Context(), &RequestOptions{URL: srv.URL}, &raw))
	assert.Equal(t, "pong", string(raw))
}
