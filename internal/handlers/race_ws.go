// internal/handlers/race_ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/racewire/racewire/internal/protocol"
	"github.com/racewire/racewire/internal/ws"
)

const (
	// heartbeatInterval is the liveness sweep cadence; a peer that cannot
	// answer a ping within pongTimeout is treated as dead.
	heartbeatInterval = 30 * time.Second
	pongTimeout       = 10 * time.Second
	writeTimeout      = 5 * time.Second
)

// RaceWSHandler upgrades the HTTP connection at the coordinator's single
// WebSocket endpoint, allocates fresh connection state, and runs the read
// loop until the peer goes away. Authentication happens before the upgrade in
// the outer system; identities arrive inside join messages.
func RaceWSHandler(logger *logrus.Logger, s *RaceServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		client := ws.NewClient(cancel)
		logger.Infof("connection %s established from %s", client.ID, r.RemoteAddr)

		go writePump(ctx, c, client, logger)

		readPump(ctx, c, s, client, logger)

		// ---- Cleanup after readPump exits ----
		logger.Infof("connection %s read loop exited, cleaning up", client.ID)
		s.HandleDisconnect(client)
		c.Close(websocket.StatusNormalClosure, "closing")
	}
}

// readPump decodes inbound frames and hands them to the dispatcher. Protocol
// errors are answered with a single error frame and the connection stays
// open; read errors and context cancellation end the loop.
func readPump(ctx context.Context, c *websocket.Conn, s *RaceServer, client *ws.Client, logger *logrus.Logger) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				logger.Infof("connection %s closed normally", client.ID)
			} else if strings.Contains(err.Error(), "context canceled") {
				// Cancelled by heartbeat failure or handler teardown.
			} else {
				logger.Warnf("connection %s read error: %v (status %d)", client.ID, err, status)
			}
			return
		}

		if typ != websocket.MessageText {
			client.SendError("Invalid message format")
			logger.Warnf("connection %s sent non-text message type %d", client.ID, typ)
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownType) {
				client.SendError("Unknown message type")
			} else {
				client.SendError("Invalid message format")
			}
			logger.Warnf("connection %s: %v", client.ID, err)
			continue
		}

		s.Dispatch(ctx, client, msg)
	}
}

// writePump serializes every write to the socket: outbound frames from the
// connection's outbox plus the periodic liveness ping. A failed write or an
// unanswered ping cancels the connection, which unwinds the read loop too.
func writePump(ctx context.Context, c *websocket.Conn, client *ws.Client, logger *logrus.Logger) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	defer client.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-client.Out:
			data, err := protocol.Encode(msg)
			if err != nil {
				logger.Warnf("connection %s: failed to marshal outgoing %T: %v", client.ID, msg, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("connection %s: write failed: %v", client.ID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pongTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("connection %s: no pong, terminating: %v", client.ID, err)
				return
			}
		}
	}
}
