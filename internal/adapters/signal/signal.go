package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/VoiceMesh/internal/app/orch"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendQueue  int
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Codec   protocol.Codec
	Limiter *RoomRateLimiter
	Opts    Options
}

func NewSignalWSController(o *orch.Orchestrator, codec protocol.Codec, limiter *RoomRateLimiter, opts Options) *SignalWSController {
	if opts.SendQueue <= 0 {
		opts.SendQueue = 64
	}
	return &SignalWSController{Orch: o, Codec: codec, Limiter: limiter, Opts: opts}
}

// wsSignalConn implements core.SignalConnection over one websocket.
type wsSignalConn struct {
	conn  *websocket.Conn
	codec protocol.Codec
	send  chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(m protocol.Message) error {
	data, err := c.codec.Encode(m)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request; each connection gets a fresh peer id.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	id := domain.PeerID(uuid.NewString())
	log.Info().Str("module", "signal").Str("peer", string(id)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.Opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.Opts.ReadLimit)
	}

	conn := &wsSignalConn{
		conn:  ws,
		codec: ctl.Codec,
		send:  make(chan []byte, ctl.Opts.SendQueue),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Connect(id, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, id, conn)
}
