package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/codehive-dev/codehive/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxFrameSize bounds inbound frames. Assistant payloads can carry
	// whole file trees, so this is generous.
	maxFrameSize = 1 << 20
)

// Server is the websocket transport over the hub. One goroutine pair
// per connection: the read pump feeds the hub, the write pump drains
// the session queue.
type Server struct {
	hub    *Hub
	logger *slog.Logger

	upgrader websocket.Upgrader

	msgRate  rate.Limit
	msgBurst int
}

// NewServer creates a websocket server. messagesPerSecond and burst
// bound inbound frames per connection; frames over the limit are
// dropped, not fatal.
func NewServer(hub *Hub, logger *slog.Logger, messagesPerSecond float64, burst int) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if messagesPerSecond <= 0 {
		messagesPerSecond = 20
	}
	if burst <= 0 {
		burst = 40
	}
	return &Server{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from any origin; auth is the
			// credential check, not the Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		msgRate:  rate.Limit(messagesPerSecond),
		msgBurst: burst,
	}
}

// HandleConnection upgrades the request and runs the admission
// handshake. Refusals close the socket with the admission close code;
// admitted connections receive the admitted event and then join the
// relay streams.
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	credential := extractCredential(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "error", err)
		return
	}

	sess, admitted, err := s.hub.Admit(r.Context(), projectID, credential)
	if err != nil {
		code := protocol.CloseInfrastructure
		reason := "infrastructure"
		var aerr *AdmissionError
		if errors.As(err, &aerr) {
			code = aerr.Code
			reason = aerr.Outcome
		}
		msg := websocket.FormatCloseMessage(code, reason)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	ev, err := protocol.NewEvent(protocol.EventAdmitted, admitted)
	if err != nil {
		s.logger.Error("encode admitted", "error", err)
		s.hub.Leave(sess)
		_ = conn.Close()
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		s.hub.Leave(sess)
		_ = conn.Close()
		return
	}

	go s.writePump(conn, sess)
	s.readPump(conn, sess)
}

// readPump reads frames until the connection dies, then detaches the
// session. Leave runs before return so a disconnect is observed by the
// room before the handler exits.
func (s *Server) readPump(conn *websocket.Conn, sess *Session) {
	defer func() {
		s.hub.Leave(sess)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(s.msgRate, s.msgBurst)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("connection closed", "session", sess.ID, "error", err)
			}
			return
		}

		if !limiter.Allow() {
			s.logger.Warn("rate limit exceeded, frame dropped", "session", sess.ID)
			continue
		}

		var ev protocol.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Warn("malformed frame", "session", sess.ID, "error", err)
			continue
		}

		switch ev.Type {
		case protocol.EventProjectMessage:
			var chat protocol.ChatMessage
			if err := json.Unmarshal(ev.Payload, &chat); err != nil {
				s.logger.Warn("malformed chat payload", "session", sess.ID, "error", err)
				continue
			}
			s.hub.HandleChat(context.Background(), sess, chat)
		default:
			s.logger.Debug("ignoring frame", "session", sess.ID, "type", ev.Type)
		}
	}
}

// writePump drains the session queue onto the wire and keeps the
// connection alive with pings. Exits when the session closes or a
// write fails.
func (s *Server) writePump(conn *websocket.Conn, sess *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case ev := <-sess.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				sess.Close()
				return
			}
		case <-sess.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.Close()
				return
			}
		}
	}
}

// extractCredential pulls the bearer credential from the Authorization
// header, falling back to the token query parameter for browser
// websocket clients that cannot set headers.
func extractCredential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if cred, ok := strings.CutPrefix(h, "Bearer "); ok {
			return cred
		}
	}
	return r.URL.Query().Get("token")
}
