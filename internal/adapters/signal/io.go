package signal

import (
	"context"
	"time"

	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *wsSignalConn) {
	var ping <-chan time.Time
	if ctl.Opts.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.Opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(frameType, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, id domain.PeerID, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(id)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Orch.Disconnect(id)
	}()

	if ctl.Opts.PingPeriod > 0 {
		pongWait := ctl.Opts.PingPeriod * 10 / 9
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("peer", string(id)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("peer", string(id)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(id, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(id domain.PeerID, c *wsSignalConn, data []byte) {
	msg, err := ctl.Codec.Decode(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad message")
		_ = c.TrySend(protocol.Error("", "bad_payload"))
		return
	}
	if msg.Type == protocol.TypeJoinRoom && ctl.Limiter != nil && !ctl.Limiter.Allow(id) {
		log.Warn().Str("module", "signal").Str("peer", string(id)).Msg("join rate limited")
		_ = c.TrySend(protocol.Error(msg.RoomID, "rate_limited"))
		return
	}
	ctl.Orch.Handle(id, msg)
}
