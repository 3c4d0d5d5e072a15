package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always decodes to interleaved stereo PCM16LE.
const mp3Channels = 2

// Player plays MP3 files on the default output device.
type Player struct {
	host *Host
}

func NewPlayer(host *Host) (*Player, error) {
	if host == nil || host.ctx == nil {
		return nil, errors.New("audio: host must not be nil")
	}
	return &Player{host: host}, nil
}

// Play decodes the MP3 at path and blocks until it has been handed to the
// device in full or ctx is done.
func (p *Player) Play(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("audio: open %q: %w", path, err)
	}
	pcm, sampleRate, err := decodeMP3(f)
	_ = f.Close()
	if err != nil {
		return err
	}

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * mp3Channels

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = uint32(sampleRate)
	cfg.Playback.Format = format
	cfg.Playback.Channels = mp3Channels
	cfg.Alsa.NoMMap = 1

	src := &pcmSource{buf: pcm}
	done := make(chan struct{})
	var once sync.Once
	device, err := malgo.InitDevice(p.host.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n > len(out) {
				n = len(out)
			}
			if src.fill(out[:n]) {
				once.Do(func() { close(done) })
			}
		},
	})
	if err != nil {
		return fmt.Errorf("audio: init playback device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("audio: start playback device: %w", err)
	}
	defer func() { _ = device.Stop() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func decodeMP3(r io.Reader) ([]byte, int, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: decode mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: decode mp3: %w", err)
	}
	return pcm, dec.SampleRate(), nil
}

// pcmSource feeds a decoded buffer to the device callback.
type pcmSource struct {
	buf []byte
	pos int
}

// fill copies the next chunk into out, zero-padding past the end, and
// reports whether the buffer is exhausted.
func (s *pcmSource) fill(out []byte) bool {
	n := copy(out, s.buf[s.pos:])
	s.pos += n
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	return s.pos >= len(s.buf)
}
