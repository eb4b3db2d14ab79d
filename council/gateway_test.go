package council

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatCompletionServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIGatewayInvoke(t *testing.T) {
	srv := chatCompletionServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "four"}, "finish_reason": "stop"}]
		}`))
	})

	g := NewOpenAIGateway("test-key", srv.URL+"/v1", 256, 0.7)
	text, err := g.Invoke(context.Background(), "test-model", "what is two plus two?", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "four", text)
}

func TestOpenAIGatewayProviderError(t *testing.T) {
	srv := chatCompletionServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"message": "internal error", "type": "server_error"}}`))
	})

	g := NewOpenAIGateway("test-key", srv.URL+"/v1", 256, 0.7)
	_, err := g.Invoke(context.Background(), "test-model", "hello", time.Second)
	require.Error(t, err)

	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, FailureProvider, backendErr.Reason)
	assert.Equal(t, "test-model", backendErr.Model)
}

func TestOpenAIGatewayEmptyResponse(t *testing.T) {
	srv := chatCompletionServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-2",
			"object": "chat.completion",
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "   "}, "finish_reason": "stop"}]
		}`))
	})

	g := NewOpenAIGateway("test-key", srv.URL+"/v1", 256, 0.7)
	_, err := g.Invoke(context.Background(), "test-model", "hello", time.Second)
	require.Error(t, err)

	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, FailureEmpty, backendErr.Reason)
}

func TestOpenAIGatewayTimeout(t *testing.T) {
	srv := chatCompletionServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	})

	g := NewOpenAIGateway("test-key", srv.URL+"/v1", 256, 0.7)
	_, err := g.Invoke(context.Background(), "test-model", "hello", 50*time.Millisecond)
	require.Error(t, err)

	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, FailureTimeout, backendErr.Reason)
}

func TestOpenAIGatewaySurvivesParentCancellation(t *testing.T) {
	srv := chatCompletionServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-3",
			"object": "chat.completion",
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "still here"}, "finish_reason": "stop"}]
		}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := NewOpenAIGateway("test-key", srv.URL+"/v1", 256, 0.7)
	text, err := g.Invoke(ctx, "test-model", "hello", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "still here", text)
}
