package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/voice"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type CallStatus struct {
	Scope      domain.RoomScope  `json:"scope"`
	State      voice.CallState   `json:"state"`
	Muted      bool              `json:"muted"`
	Deafened   bool              `json:"deafened"`
	PushToTalk bool              `json:"pushToTalk"`
	Peers      []domain.PeerInfo `json:"peers"`
	LastError  string            `json:"lastError,omitempty"`
}

func statusOf(c *voice.Call) CallStatus {
	st := CallStatus{
		Scope:      c.Scope(),
		State:      c.State(),
		Muted:      c.IsMuted(),
		Deafened:   c.IsDeafened(),
		PushToTalk: c.PushToTalkMode(),
		Peers:      c.Peers(),
	}
	if st.Peers == nil {
		st.Peers = []domain.PeerInfo{}
	}
	if err := c.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

type toggleRequest struct {
	Value *bool `json:"value" binding:"required"`
}

type volumeRequest struct {
	Name   string   `json:"name" binding:"required"`
	Volume *float64 `json:"volume" binding:"required"`
}

// ControlAPI is the local surface a presentation layer drives the client with.
type ControlAPI struct {
	Client *voice.Client
	// JoinContext bounds microphone acquisition; defaults to the request context.
	JoinContext func(*gin.Context) context.Context
}

func (api *ControlAPI) scopeCall(c *gin.Context) (*voice.Call, bool) {
	scope := domain.RoomScope{Kind: domain.ScopeKind(c.Param("kind")), RoomID: c.Param("id")}
	call, err := api.Client.Call(scope)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return call, true
}

func (api *ControlAPI) toggle(apply func(*voice.Call, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		call, ok := api.scopeCall(c)
		if !ok {
			return
		}
		var req toggleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		apply(call, *req.Value)
		c.JSON(http.StatusOK, statusOf(call))
	}
}

func (api *ControlAPI) join(c *gin.Context) {
	call, ok := api.scopeCall(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if api.JoinContext != nil {
		ctx = api.JoinContext(c)
	}
	if err := call.Join(ctx); err != nil {
		status := http.StatusBadGateway
		var ce *domain.CallError
		switch {
		case errors.As(err, &ce):
			status = http.StatusServiceUnavailable
		case errors.Is(err, domain.ErrDisplayNameEmpty), errors.Is(err, domain.ErrDisplayNameTooLong):
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error(), "status": statusOf(call)})
		return
	}
	c.JSON(http.StatusAccepted, statusOf(call))
}

func (api *ControlAPI) leave(c *gin.Context) {
	call, ok := api.scopeCall(c)
	if !ok {
		return
	}
	call.Leave()
	c.JSON(http.StatusOK, statusOf(call))
}

func (api *ControlAPI) volume(c *gin.Context) {
	call, ok := api.scopeCall(c)
	if !ok {
		return
	}
	var req volumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	call.SetPeerVolume(req.Name, *req.Volume)
	c.JSON(http.StatusOK, gin.H{"name": req.Name, "volume": call.PeerVolume(req.Name)})
}

func (api *ControlAPI) status(c *gin.Context) {
	calls := api.Client.Calls()
	out := make([]CallStatus, 0, len(calls))
	for _, call := range calls {
		out = append(out, statusOf(call))
	}
	c.JSON(http.StatusOK, out)
}

// events streams call events as server-sent events until the client goes away.
func (api *ControlAPI) events(c *gin.Context) {
	events, cancel := api.Client.Subscribe()
	defer cancel()
	log.Debug().Str("module", "adapters.http").Msg("event stream opened")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		}
	})
}

// Register mounts the control routes on r.
func (api *ControlAPI) Register(r gin.IRouter) {
	g := r.Group("/api")
	g.GET("/status", api.status)
	g.GET("/events", api.events)

	calls := g.Group("/calls/:kind/:id")
	calls.POST("/join", api.join)
	calls.POST("/leave", api.leave)
	calls.POST("/mute", api.toggle((*voice.Call).SetMuted))
	calls.POST("/deafen", api.toggle((*voice.Call).SetDeafened))
	calls.POST("/ptt-mode", api.toggle((*voice.Call).SetPushToTalkMode))
	calls.POST("/ptt", api.toggle((*voice.Call).SetPushToTalkActive))
	calls.POST("/volume", api.volume)
}

// SetupControlRouter builds the client-side control router.
func SetupControlRouter(mode string, api *ControlAPI) *gin.Engine {
	r := newEngine(mode)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api.Register(r)
	log.Info().Str("module", "adapters.http").Msg("control router setup")
	return r
}
