package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomhub/hub"
)

// connection pairs one websocket with its hub session. The read pump owns
// the session lifetime; the write pump owns every write on the socket.
type connection struct {
	srv     *Server
	ws      *websocket.Conn
	session *hub.Session
	log     zerolog.Logger
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	session, err := s.hub.Connect(r.Context(), r.RemoteAddr)
	if err != nil {
		s.log.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("hub refused connection")
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(s.config.WriteTimeout))
		_ = ws.Close()
		return
	}

	c := &connection{
		srv:     s,
		ws:      ws,
		session: session,
		log:     s.log.With().Str("session", session.ID).Str("addr", r.RemoteAddr).Logger(),
	}
	c.log.Info().Msg("client connected")

	go c.writePump()
	c.readPump(r.Context())
}

func (c *connection) readPump(ctx context.Context) {
	defer func() {
		if err := c.srv.hub.Disconnect(context.Background(), c.session); err != nil && !errors.Is(err, hub.ErrClosed) {
			c.log.Error().Err(err).Msg("disconnect")
		}
		_ = c.ws.Close()
		c.log.Info().Msg("client disconnected")
	}()

	timeout := c.srv.config.ReadTimeout
	c.ws.SetReadLimit(c.srv.config.MaxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(timeout))
	})

	for {
		kind, frame, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
		if kind != websocket.TextMessage {
			c.log.Debug().Int("kind", kind).Msg("ignoring non-text frame")
			continue
		}

		if err := c.srv.hub.Deliver(ctx, c.session, frame); err != nil {
			c.log.Debug().Err(err).Msg("hub rejected frame")
			return
		}
	}
}

func (c *connection) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("limit", c.srv.config.MaxFrameSize).Msg("frame exceeded size limit")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug().Err(err).Msg("client closed connection")
	case websocket.IsUnexpectedCloseError(err):
		c.log.Warn().Err(err).Msg("unexpected close")
	default:
		c.log.Debug().Err(err).Msg("read failed")
	}
}

// writePump drains the session's outbound queue and keeps the connection
// alive with pings. A closed queue means the hub dropped the session.
func (c *connection) writePump() {
	pingEvery := c.srv.config.ReadTimeout * 9 / 10
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.session.Outbound():
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.config.WriteTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}
