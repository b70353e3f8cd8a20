package domain

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCaptureError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"sentinel permission", fmt.Errorf("open mic: %w", ErrPermissionDenied), KindPermissionDenied},
		{"os permission", &fs.PathError{Op: "open", Path: "/dev/snd/pcmC0D0c", Err: fs.ErrPermission}, KindPermissionDenied},
		{"no device", ErrDeviceNotFound, KindDeviceNotFound},
		{"missing node", &fs.PathError{Op: "open", Path: "/dev/snd", Err: fs.ErrNotExist}, KindDeviceNotFound},
		{"anything else", errors.New("device busy"), KindCaptureUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := ClassifyCaptureError(tt.err)
			assert.Equal(t, tt.want, ce.Kind)
			assert.ErrorIs(t, ce, tt.err)
			assert.ErrorIs(t, ce, tt.want.sentinel())
		})
	}

	assert.Nil(t, ClassifyCaptureError(nil))
}

func TestClassifyKeepsCaptureKind(t *testing.T) {
	orig := &CallError{Kind: KindDeviceNotFound, Err: errors.New("enumerate: 0 devices")}
	assert.Same(t, orig, ClassifyCaptureError(fmt.Errorf("acquire: %w", orig)))
}

func TestPeerErrorMessage(t *testing.T) {
	err := NewPeerError(KindNegotiationFailed, "p1", errors.New("bad sdp"))
	assert.Equal(t, "peer p1: negotiation_failed: bad sdp", err.Error())
	assert.ErrorIs(t, err, ErrNegotiationFailed)
	assert.NotErrorIs(t, err, ErrConnectionLost)
	assert.False(t, err.Kind.Capture())
}
