package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/park285/matey-server/internal/notify"
	"github.com/park285/matey-server/internal/obslog"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	writeTimeout   = 5 * time.Second
	pingInterval   = 30 * time.Second
	maxFrameBytes  = 16 << 10
	cleanupTimeout = 5 * time.Second
)

// handleWS upgrades the request into one connection-session. The session is bound in
// presence on open and released on close.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.Identify(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.origins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	sess := &session{id: uuid.NewString(), user: user}
	c := s.hub.register(sess.id, user.ID)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	defer func() {
		s.hub.unregister(c)
		cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer ccancel()
		if err := s.lobby.DisconnectSession(cctx, sess.id); err != nil {
			obslog.L().Warn("ws_disconnect_error", zap.String("session_id", sess.id), zap.Error(err))
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	go s.writeLoop(ctx, cancel, conn, c)

	if s.users != nil {
		if err := s.users.PutUser(ctx, user.ID, user.Username); err != nil {
			obslog.L().Warn("ws_user_upsert_error", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	if err := s.lobby.ConnectSession(ctx, sess.id, user.ID, user.Username); err != nil {
		obslog.L().Warn("ws_connect_notify_error", zap.String("session_id", sess.id), zap.Error(err))
	}
	obslog.L().Info("ws_open", zap.String("session_id", sess.id), zap.String("user_id", user.ID))

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if st := websocket.CloseStatus(err); st != websocket.StatusNormalClosure && st != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				obslog.L().Debug("ws_read_end", zap.String("session_id", sess.id), zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			s.reply(c, notify.NewError(CodeBadRequest, "text frames only"))
			continue
		}
		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.reply(c, notify.NewError(CodeBadRequest, "malformed frame"))
			continue
		}
		if reply := s.dispatch(ctx, sess, f); reply != nil {
			s.reply(c, reply)
		}
	}
}

func (s *Server) reply(c *client, ev notify.Event) {
	frame, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.hub.deliver(c, frame)
}

// writeLoop is the only writer on conn. It ends the session when the hub stops the client
// or a write fails.
func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, c *client) {
	defer cancel()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case frame := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, frame)
			wcancel()
			if err != nil {
				obslog.L().Debug("ws_write_error", zap.String("session_id", c.sessionID), zap.Error(err))
				return
			}
		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				return
			}
		}
	}
}
