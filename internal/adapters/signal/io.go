package signal

import (
	"context"
	"time"

	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait         = 5 * time.Second
	defaultPingPeriod = 54 * time.Second
	defaultPongWait   = 60 * time.Second
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	period := ctl.PingPeriod
	if period <= 0 {
		period = defaultPingPeriod
	}
	ticker := time.NewTicker(period)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

// readPump feeds decoded events to the orchestrator. When the socket dies it
// emits Disconnecting then Disconnect, in that order.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		bg := context.Background()
		if err := ctl.Orch.Submit(bg, orch.Disconnecting{SID: sid}); err != nil {
			log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("submit disconnecting")
		}
		c.Close()
		cancel()
		if err := ctl.Orch.Submit(bg, orch.Disconnect{SID: sid}); err != nil {
			log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("submit disconnect")
		}
	}()

	pongWait := ctl.PongWait
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	if ctl.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.ReadLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		ev, err := decodeEvent(sid, data)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad signal")
			ctl.sendError(c, "bad_payload")
			continue
		}
		if err := ctl.Orch.Submit(ctx, ctl.Orch.Prepare(ctx, ev)); err != nil {
			return
		}
	}
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, msg string) {
	frame, err := protocol.Encode(protocol.TypeError, protocol.Error{Error: msg})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendError marshal")
		return
	}
	_ = c.TrySend(frame)
}
