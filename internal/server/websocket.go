package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/omnishelf/internal/pipeline"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketDetectRequest is a detection request sent by the client. Image
// carries the encoded shelf photo (base64 in JSON).
type WebSocketDetectRequest struct {
	Type    string `json:"type"` // "detect"
	Image   []byte `json:"image,omitempty"`
	ShelfID string `json:"shelf_id,omitempty"`
	Save    *bool  `json:"save,omitempty"`
}

// WebSocketDetectResponse is streamed back for every state change, progress
// tick and final result.
type WebSocketDetectResponse struct {
	Type      string           `json:"type"`   // "state", "progress", "result", "error"
	Status    string           `json:"status"` // "processing", "completed", "error"
	State     string           `json:"state,omitempty"`
	Stage     string           `json:"stage,omitempty"`
	Done      int              `json:"done,omitempty"`
	Total     int              `json:"total,omitempty"`
	Progress  float64          `json:"progress,omitempty"`
	Result    *pipeline.Result `json:"result,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorType string           `json:"error_type,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
}

// lockedWriter serializes writes from the read loop and pipeline observers.
type lockedWriter struct {
	mu   sync.Mutex
	conn WebSocketConnWriter
}

func (l *lockedWriter) WriteMessage(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.conn.(*websocket.Conn); ok {
		_ = c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	}
	return l.conn.WriteMessage(messageType, data)
}

// wsObserver forwards pipeline events to the client.
type wsObserver struct {
	s         *Server
	conn      WebSocketConnWriter
	requestID string
}

func (o *wsObserver) OnStateChange(state pipeline.State) {
	o.s.sendWebSocketResponse(o.conn, WebSocketDetectResponse{
		Type:      "state",
		Status:    "processing",
		State:     state.String(),
		RequestID: o.requestID,
	})
}

func (o *wsObserver) OnProgress(stage string, done, total int) {
	var progress float64
	if total > 0 {
		progress = float64(done) / float64(total)
	}
	o.s.sendWebSocketResponse(o.conn, WebSocketDetectResponse{
		Type:      "progress",
		Status:    "processing",
		Stage:     stage,
		Done:      done,
		Total:     total,
		Progress:  progress,
		RequestID: o.requestID,
	})
}

// detectWebSocketHandler handles WebSocket connections for streamed detection.
func (s *Server) detectWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	s.handleWebSocketConnection(r.Context(), conn)
}

// handleWebSocketConnection processes messages from a WebSocket connection.
func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	writer := &lockedWriter{conn: conn}
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, writer, data)
		}
	}
}

// handleWebSocketMessage processes a single client request.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, data []byte) {
	var req WebSocketDetectRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if req.Type != "detect" {
		s.sendWebSocketError(conn, "", "invalid_request", "Unsupported request type: "+req.Type)
		return
	}
	if len(req.Image) == 0 {
		s.sendWebSocketError(conn, "", "invalid_request", "No image data provided")
		return
	}
	if int64(len(req.Image)) > s.maxUploadMB*1024*1024 {
		s.sendWebSocketError(conn, "", "file_too_large", "File too large")
		return
	}

	requestID := uuid.NewString()
	uploadSizeBytes.Observe(float64(len(req.Image)))

	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	obs := &wsObserver{s: s, conn: conn, requestID: requestID}
	res, err := s.pipeline.DetectBytes(ctx, req.Image, obs)
	if err != nil {
		detectRequestsTotal.WithLabelValues("websocket", "error").Inc()
		msg, code := classifyError(err)
		errType := "processing_error"
		if code == http.StatusBadRequest {
			errType = "invalid_image"
		}
		s.sendWebSocketError(conn, requestID, errType, msg)
		return
	}
	observeResult("websocket", res)

	resp := WebSocketDetectResponse{
		Type:      "result",
		Status:    "completed",
		Progress:  1.0,
		Result:    res,
		RequestID: requestID,
	}
	if s.store != nil && (req.Save == nil || *req.Save) {
		scan, err := s.store.SaveScan(ctx, req.ShelfID, res.Detections, time.Now())
		if err != nil {
			slog.Error("failed to save scan", "error", err)
			s.sendWebSocketError(conn, requestID, "store_error", "Failed to save scan")
			return
		}
		resp.SessionID = scan.SessionID
	}
	s.sendWebSocketResponse(conn, resp)
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketDetectResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}

	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketDetectResponse{
		Type:      "error",
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
		RequestID: requestID,
	})
}
