// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateConversation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/projects/proj-1/conversations", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "proj-1", req["project_id"])
		assert.Equal(t, "Tides", req["title"])

		json.NewEncoder(w).Encode(map[string]string{"id": "backend-42"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	id, err := client.CreateConversation(context.Background(), "proj-1", "Tides")
	require.NoError(t, err)
	assert.Equal(t, "backend-42", id)
}

func TestCreateConversation_EmptyID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.CreateConversation(context.Background(), "proj-1", "")
	require.Error(t, err)
	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
}

func TestAppendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/proj-1/conversations/backend-42/messages", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user", req["role"])
		assert.Equal(t, "hello", req["content"])

		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	err := client.AppendMessage(context.Background(), "proj-1", "backend-42", "user", "hello")
	assert.NoError(t, err)
}

func TestNotConfigured(t *testing.T) {
	client := NewClient("http://localhost:0", "")
	_, err := client.CreateConversation(context.Background(), "proj-1", "")
	assert.ErrorIs(t, err, ErrNotConfigured)

	err = client.AppendMessage(context.Background(), "proj-1", "c", "user", "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, ErrAuthFailed},
		{"not found", http.StatusNotFound, `{"error":{"message":"no such conversation"}}`, ErrNotFound},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, ErrRateLimited},
		{"unauthorized unparseable", http.StatusUnauthorized, `nope`, ErrAuthFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, "test-key")
			err := client.AppendMessage(context.Background(), "p", "c", "user", "x")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestErrorMapping_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":"internal","message":"boom"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	err := client.AppendMessage(context.Background(), "p", "c", "user", "x")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "internal", apiErr.Code)
}

func TestGetProjectContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/projects/proj-1/context", r.URL.Path)
		json.NewEncoder(w).Encode(ProjectContext{
			ProjectID:    "proj-1",
			Instructions: "Answer briefly.",
			Extensions:   []string{"search"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	pc, err := client.GetProjectContext(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "Answer briefly.", pc.Instructions)
	assert.Equal(t, []string{"search"}, pc.Extensions)
}

func TestListExtensions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/proj-1/extensions", r.URL.Path)
		json.NewEncoder(w).Encode(map[string][]Extension{
			"extensions": {{Name: "search", Enabled: true}, {Name: "code", Enabled: false}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	exts, err := client.ListExtensions(context.Background(), "proj-1")
	require.NoError(t, err)
	require.Len(t, exts, 2)
	assert.True(t, exts[0].Enabled)
	assert.False(t, exts[1].Enabled)
}
