package app

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gridsync/api/internal/rbac"
	"gridsync/api/internal/relay"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamFrame is one message on an object stream. Type is "revision" for
// committed revisions, "ack" for an accepted client revision and "error"
// when a client revision was rejected.
type streamFrame struct {
	Type     string          `json:"type"`
	Revision *relay.Message  `json:"revision,omitempty"`
	Mutation *Mutation       `json:"mutation,omitempty"`
	Code     string          `json:"code,omitempty"`
	Error    string          `json:"error,omitempty"`
	Details  any             `json:"details,omitempty"`
	Ref      json.RawMessage `json:"ref,omitempty"`
}

// streamRequest is a client revision sent over the stream; Ref is echoed back
// on the ack or error frame.
type streamRequest struct {
	IngestInput
	Ref json.RawMessage `json:"ref,omitempty"`
}

// handleStream upgrades to a WebSocket and forwards the revisions of
// objectID. With ?since=N the revisions after N are replayed from the log
// before live ones. Clients allowed to ingest may send revisions back.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request, sess Session, objectID string) {
	since := int64(-1)
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "since must be a non-negative integer", nil)
			return
		}
		since = parsed
	}

	ctx := r.Context()
	sub, err := s.service.Subscribe(ctx, objectID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	defer sub.Close()

	var backlog []relay.Message
	if since >= 0 {
		revs, err := s.service.Revisions(ctx, objectID, since+1)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		for _, rev := range revs {
			backlog = append(backlog, relay.Message{
				ObjectID: rev.ResourceID,
				Sequence: rev.Sequence,
				Author:   rev.Author,
				Delta:    rev.Delta,
				Checksum: rev.Checksum,
			})
		}
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("stream: upgrade %s: %v", objectID, err)
		return
	}
	defer ws.Close()

	var writeMu sync.Mutex
	send := func(frame streamFrame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return ws.WriteJSON(frame)
	}

	last := since
	for i := range backlog {
		if err := send(streamFrame{Type: "revision", Revision: &backlog[i]}); err != nil {
			return
		}
		last = backlog[i].Sequence
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.readStream(ctx, ws, sess, objectID, send)
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if msg.Sequence <= last {
				continue
			}
			last = msg.Sequence
			if err := send(streamFrame{Type: "revision", Revision: &msg}); err != nil {
				log.Printf("stream: write %s: %v", objectID, err)
				return
			}
		case <-ticker.C:
			writeMu.Lock()
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait))
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// readStream reads client frames until the connection closes.
func (s *HTTPServer) readStream(parent context.Context, ws *websocket.Conn, sess Session, objectID string, send func(streamFrame) error) {
	_ = ws.SetReadDeadline(time.Now().Add(streamPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("stream: read %s: %v", objectID, err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(streamPongWait))

		var req streamRequest
		if err := json.Unmarshal(data, &req); err != nil {
			_ = send(streamFrame{Type: "error", Code: "INVALID_BODY", Error: "invalid JSON frame"})
			continue
		}
		if !s.service.Can(sess.Role, rbac.ActionIngest) {
			_ = send(streamFrame{Type: "error", Code: "FORBIDDEN", Error: "Forbidden", Ref: req.Ref})
			continue
		}

		ctx, cancel := context.WithTimeout(parent, streamWriteWait)
		m, err := s.service.ApplyRevision(ctx, objectID, sess.UserName, req.IngestInput)
		cancel()
		if err != nil {
			_, code, message, details := mapError(err)
			_ = send(streamFrame{Type: "error", Code: code, Error: message, Details: details, Ref: req.Ref})
			continue
		}
		_ = send(streamFrame{Type: "ack", Mutation: &m, Ref: req.Ref})
	}
}
