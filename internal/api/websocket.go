package api

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relayforge/htlc-coordinator/internal/eventbus"
	"github.com/relayforge/htlc-coordinator/internal/types"
)

// pongWait/pingPeriod/writeWait mirror the keepalive budget in
// uhyunpark-hyperlicked/pkg/api/websocket.go; this coordinator has no
// client-to-server message protocol (a connection only ever watches
// one order), so readPump here exists solely to drive the pong
// handler and notice a closed socket.
const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and streams
// internal/eventbus messages for the order named by the `orderId`
// query parameter until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		http.Error(w, "orderId query parameter is required", http.StatusBadRequest)
		return
	}
	if _, err := s.store.Get(orderID); err != nil {
		http.Error(w, "unknown order", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := s.bus.Subscribe(orderID)
	go s.wsReadPump(conn, sub)
	s.wsWritePump(conn, sub)
}

// wsReadPump discards inbound frames (this is a push-only stream) and
// exists to maintain the pong deadline and notice when the peer closes
// the connection, at which point it unsubscribes so wsWritePump exits.
func (s *Server) wsReadPump(conn *websocket.Conn, sub *eventbus.Subscriber) {
	defer s.bus.Unsubscribe(sub)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) wsWritePump(conn *websocket.Conn, sub *eventbus.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.Ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func secretReleasedMessage(orderID string, segmentID *int, secret []byte) eventbus.Message {
	return eventbus.Message{
		Type:      eventbus.MessageSecretReleased,
		OrderID:   orderID,
		SegmentID: segmentID,
		Payload:   eventbus.SecretReleasedPayload{Secret: hex.EncodeToString(secret), ReleasedAt: time.Now()},
	}
}

func progressMessage(ev types.ProgressEvent) eventbus.Message {
	return eventbus.Message{
		Type:      eventbus.MessageResolverProgress,
		OrderID:   ev.OrderID,
		SegmentID: ev.SegmentID,
		Payload:   eventbus.ResolverProgressPayload{Step: ev.Step, Details: ev.Details},
	}
}
