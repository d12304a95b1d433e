package server

import (
	"encoding/json"
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

func dialDetect(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/detect"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil collects messages until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, final string) []WebSocketDetectResponse {
	t.Helper()
	var msgs []WebSocketDetectResponse
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg WebSocketDetectResponse
		require.NoError(t, conn.ReadJSON(&msg))
		msgs = append(msgs, msg)
		if msg.Type == final || msg.Type == "error" {
			return msgs
		}
	}
}

func TestWebSocketDetectStreamsStatesAndResult(t *testing.T) {
	s, _ := newTestServer(t, true)
	conn := dialDetect(t, s)

	require.NoError(t, conn.WriteJSON(WebSocketDetectRequest{Type: "detect", Image: pngUpload(t), ShelfID: "B"}))
	msgs := readUntil(t, conn, "result")

	var states []string
	for _, m := range msgs {
		if m.Type == "state" {
			states = append(states, m.State)
		}
	}
	assert.Equal(t, []string{"PROPOSING", "CLASSIFYING", "DONE"}, states)

	last := msgs[len(msgs)-1]
	require.Equal(t, "result", last.Type)
	assert.Equal(t, "completed", last.Status)
	require.NotNil(t, last.Result)
	assert.Len(t, last.Result.Detections, 2)
	assert.NotEmpty(t, last.SessionID)
	assert.NotEmpty(t, last.RequestID)

	for _, m := range msgs {
		assert.Equal(t, last.RequestID, m.RequestID)
	}
}

func TestWebSocketDetectErrors(t *testing.T) {
	s, _ := newTestServer(t, false)
	conn := dialDetect(t, s)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	msgs := readUntil(t, conn, "error")
	assert.Equal(t, "invalid_request", msgs[len(msgs)-1].ErrorType)

	require.NoError(t, conn.WriteJSON(WebSocketDetectRequest{Type: "subscribe"}))
	msgs = readUntil(t, conn, "error")
	assert.Contains(t, msgs[len(msgs)-1].Error, "Unsupported request type")

	require.NoError(t, conn.WriteJSON(WebSocketDetectRequest{Type: "detect"}))
	msgs = readUntil(t, conn, "error")
	assert.Equal(t, "No image data provided", msgs[len(msgs)-1].Error)

	require.NoError(t, conn.WriteJSON(WebSocketDetectRequest{Type: "detect", Image: []byte("junk")}))
	msgs = readUntil(t, conn, "error")
	assert.Equal(t, "invalid_image", msgs[len(msgs)-1].ErrorType)
}

type captureWriter struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (c *captureWriter) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, data)
	return nil
}

func TestWSObserverProgress(t *testing.T) {
	s := &Server{}
	w := &captureWriter{}
	obs := &wsObserver{s: s, conn: w, requestID: "r1"}
	obs.OnProgress("classify", 3, 4)

	require.Len(t, w.msgs, 1)
	var msg WebSocketDetectResponse
	require.NoError(t, json.Unmarshal(w.msgs[0], &msg))
	assert.Equal(t, "progress", msg.Type)
	assert.Equal(t, "classify", msg.Stage)
	assert.InDelta(t, 0.75, msg.Progress, 1e-9)
	assert.Equal(t, "r1", msg.RequestID)
}
