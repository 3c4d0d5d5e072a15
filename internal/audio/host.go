package audio

import (
	"fmt"
	"log/slog"

	"github.com/gen2brain/malgo"
)

// Host owns the miniaudio context shared by the capture and playback devices.
type Host struct {
	ctx *malgo.AllocatedContext
}

func OpenHost() (*Host, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}
	return &Host{ctx: ctx}, nil
}

func (h *Host) Close() error {
	if h == nil || h.ctx == nil {
		return nil
	}
	err := h.ctx.Uninit()
	h.ctx.Free()
	h.ctx = nil
	return err
}
