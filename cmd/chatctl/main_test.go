package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/conversations/unread/count", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "authentication required"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{"unreadCount": 3}})
	})
	mux.HandleFunc("POST /api/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{
			"id": "m-" + r.Header.Get("Idempotency-Key"), "conversationId": r.PathValue("id"), "content": body["content"],
		}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run([]string{"nope"}, &out))
	assert.Error(t, run(nil, &out))
}

func TestRunUnread(t *testing.T) {
	srv := fakeServer(t)
	var out bytes.Buffer
	require.NoError(t, run([]string{"--server", srv.URL, "--token", "tok", "unread"}, &out))
	assert.Equal(t, "3\n", out.String())

	err := run([]string{"--server", srv.URL, "unread"}, &out)
	assert.ErrorContains(t, err, "authentication required")
}

func TestRunSendJoinsWordsAndSetsKey(t *testing.T) {
	srv := fakeServer(t)
	var out bytes.Buffer
	require.NoError(t, run([]string{"-s", srv.URL, "-t", "tok", "send", "c1", "hello", "there"}, &out))
	assert.Regexp(t, `^m-[0-9a-f-]{36}\n$`, out.String())

	assert.ErrorContains(t, run([]string{"-s", srv.URL, "send", "c1"}, &out), "usage")
}
