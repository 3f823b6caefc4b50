package grading

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSubmitPostsPayload(t *testing.T) {
	var received Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"message":"queued"}`))
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL, Token: "secret"}, zerolog.New(io.Discard))
	resp, err := client.Submit(context.Background(), Request{AudioURLs: []string{"u1", "u2"}, SubmissionURL: "sub-1"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "queued", resp.Message)
	require.Equal(t, Request{AudioURLs: []string{"u1", "u2"}, SubmissionURL: "sub-1"}, received)
}

func TestSubmitFailsOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL}, zerolog.New(io.Discard))
	_, err := client.Submit(context.Background(), Request{SubmissionURL: "sub-1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestSubmitFailsWhenBodyReportsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false,"message":"quota exceeded"}`))
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL}, zerolog.New(io.Discard))
	resp, err := client.Submit(context.Background(), Request{SubmissionURL: "sub-1"})
	require.ErrorIs(t, err, ErrRejected)
	require.Contains(t, err.Error(), "quota exceeded")
	require.False(t, resp.Success)
}

func TestSubmitTreatsEmptyBodyAsAccepted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL}, zerolog.New(io.Discard))
	resp, err := client.Submit(context.Background(), Request{SubmissionURL: "sub-1"})
	require.NoError(t, err)
	require.True(t, resp.Success)
}

func TestSubmitRequiresEndpoint(t *testing.T) {
	client := NewClient(Config{}, zerolog.New(io.Discard))
	_, err := client.Submit(context.Background(), Request{})
	require.ErrorIs(t, err, ErrNotConfigured)
}
