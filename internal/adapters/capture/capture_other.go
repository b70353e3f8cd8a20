//go:build !linux

package capture

import (
	"context"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Provider has no capture driver on this platform.
type Provider struct{}

func NewProvider() (*Provider, error) { return &Provider{}, nil }

func (p *Provider) PopulateCodecs(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (p *Provider) Acquire(context.Context) (core.CaptureStream, error) {
	return nil, domain.ErrDeviceNotFound
}
