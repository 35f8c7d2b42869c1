package polygon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedServer is a minimal stand-in for the streaming socket. It records the
// control messages each connection sends and then pushes the configured
// payloads.
type feedServer struct {
	mu       sync.Mutex
	control  []map[string]string
	payloads [][]byte
	conns    int
}

func (f *feedServer) handler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	f.mu.Lock()
	f.conns++
	f.mu.Unlock()

	// Expect auth then subscribe.
	for i := 0; i < 2; i++ {
		var msg map[string]string
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		f.mu.Lock()
		f.control = append(f.control, msg)
		f.mu.Unlock()
	}

	for _, payload := range f.payloads {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	// Dropping the connection here exercises the reconnect path.
}

func (f *feedServer) connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns
}

func TestStream_AuthSubscribeAndDeliver(t *testing.T) {
	server := &feedServer{payloads: [][]byte{
		[]byte(`[{"ev":"T","sym":"AAPL","p":50.0,"s":100,"x":11,"t":1767367800000}]`),
	}}
	ts := httptest.NewServer(http.HandlerFunc(server.handler))
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	stream, err := NewStream(StreamConfig{
		URL:            wsURL,
		APIKey:         "test-key",
		ReconnectDelay: 50 * time.Millisecond,
		Logger:         &mockLogger{},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan []byte, 1)

	done := make(chan error, 1)
	go func() {
		done <- stream.Run(ctx, func(message []byte) {
			select {
			case received <- message:
			default:
			}
		})
	}()

	select {
	case msg := <-received:
		assert.Contains(t, string(msg), `"sym":"AAPL"`)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed message")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancellation")
	}

	server.mu.Lock()
	require.GreaterOrEqual(t, len(server.control), 2)
	assert.Equal(t, map[string]string{"action": "auth", "params": "test-key"}, server.control[0])
	assert.Equal(t, map[string]string{"action": "subscribe", "params": "T.*"}, server.control[1])
	server.mu.Unlock()
}

func TestStream_ReconnectsAfterDisconnect(t *testing.T) {
	server := &feedServer{}
	ts := httptest.NewServer(http.HandlerFunc(server.handler))
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	stream, err := NewStream(StreamConfig{
		URL:            wsURL,
		APIKey:         "test-key",
		ReconnectDelay: 20 * time.Millisecond,
		Logger:         &mockLogger{},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- stream.Run(ctx, func([]byte) {})
	}()

	// The server drops each connection right after the handshake, so the
	// connection count climbing proves the fixed-delay retry loop works.
	require.Eventually(t, func() bool {
		return server.connections() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancellation")
	}
}

func TestStream_ConfigValidation(t *testing.T) {
	_, err := NewStream(StreamConfig{APIKey: "k", Logger: &mockLogger{}})
	assert.Error(t, err)

	_, err = NewStream(StreamConfig{URL: "ws://x", Logger: &mockLogger{}})
	assert.Error(t, err)

	_, err = NewStream(StreamConfig{URL: "ws://x", APIKey: "k"})
	assert.Error(t, err)
}
