package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type request struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

type response struct {
	Type  string     `json:"type"`
	ID    string     `json:"id"`
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// session is the caller of a request.
type session struct {
	sid  core.SessionID
	conn *WsSignalConn
}

type handlerFunc func(ctx context.Context, s session, data json.RawMessage) (any, error)

func (ctl *SignalWSController) writePump(c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		ctl.Orch.OnDisconnect(sid)
		ctl.limiter.Forget(sid)
		c.Close()
	}()

	go func() {
		<-ctx.Done()
		c.Close()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleMessage(ctx, session{sid: sid, conn: c}, data)
	}
}

// handleMessage serves one request. Requests on a connection are handled in
// arrival order.
func (ctl *SignalWSController) handleMessage(ctx context.Context, s session, data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil || req.Type == "" {
		ctl.reply(s, req, nil, fmt.Errorf("%w: malformed message", domain.ErrInvalidRequest))
		return
	}
	if !ctl.limiter.Allow(s.sid) {
		ctl.reply(s, req, nil, domain.ErrRateLimited)
		return
	}
	h, ok := ctl.handlers[req.Type]
	if !ok {
		ctl.reply(s, req, nil, fmt.Errorf("%w: unknown request %q", domain.ErrInvalidRequest, req.Type))
		return
	}
	res, err := h(ctx, s, req.Data)
	ctl.reply(s, req, res, err)
}

func (ctl *SignalWSController) reply(s session, req request, data any, err error) {
	resp := response{Type: "response", ID: req.ID, OK: err == nil, Data: data}
	if err != nil {
		code := domain.Code(err)
		resp.Data = nil
		resp.Error = &errorBody{Code: code, Message: err.Error()}

		lvl := zerolog.DebugLevel
		if code == domain.CodeInternal || code == domain.CodeExternalEngineFailure {
			lvl = zerolog.ErrorLevel
		}
		log.WithLevel(lvl).Err(err).
			Str("module", "signal").
			Str("sid", string(s.sid)).
			Str("request", req.Type).
			Str("code", code).
			Msg("request failed")
	}

	b, mErr := json.Marshal(resp)
	if mErr != nil {
		log.Error().Err(mErr).Str("module", "signal").Str("request", req.Type).Msg("marshal response")
		return
	}
	if sErr := s.conn.TrySend(b); sErr != nil {
		log.Warn().Err(sErr).Str("module", "signal").Str("sid", string(s.sid)).Msg("response dropped, closing connection")
		s.conn.Close()
	}
}

// decode unmarshals and validates a request payload. An absent payload
// decodes to the zero value before validation.
func decode[T any](v *validator.Validate, data json.RawMessage) (T, error) {
	var p T
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &p); err != nil {
			return p, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
		}
	}
	if err := v.Struct(p); err != nil {
		return p, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	return p, nil
}

func (ctl *SignalWSController) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		"joinRoom":              ctl.handleJoin,
		"leaveRoom":             ctl.handleLeave,
		"getParticipants":       ctl.handleParticipants,
		"endCallForAll":         ctl.handleEndCall,
		"getRouterCapabilities": ctl.handleCapabilities,
		"createTransport":       ctl.handleCreateTransport,
		"connectTransport":      ctl.handleConnectTransport,
		"produce":               ctl.handleProduce,
		"consume":               ctl.handleConsume,
		"getExistingProducers":  ctl.handleExistingProducers,
		"toggleRecording":       ctl.handleToggleRecording,
		"muteAll":               ctl.handleMuteAll,
		"muteParticipant":       ctl.handleMuteParticipant,
		"kickParticipant":       ctl.handleKick,
		"pauseScreenShare":      ctl.handlePauseScreenShare,
		"setStreamQuality":      ctl.handleStreamQuality,
		"setMainVideo":          ctl.handleSetMainVideo,
		"setMute":               ctl.handleSetMute,
		"ping":                  ctl.handlePing,
	}
}
