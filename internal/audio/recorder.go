package audio

import (
	"context"
	"errors"
	"fmt"

	"github.com/gen2brain/malgo"
)

// Utterance is one captured stretch of mono PCM16LE speech.
type Utterance struct {
	PCM        []byte
	SampleRate int
}

// WAV returns the utterance wrapped in a WAV container.
func (u Utterance) WAV() ([]byte, error) {
	return EncodeWAV(u.PCM, u.SampleRate, 1)
}

// Recorder captures single utterances from the default input device.
type Recorder struct {
	host *Host
	cfg  CaptureConfig
}

func NewRecorder(host *Host, cfg CaptureConfig) (*Recorder, error) {
	if host == nil || host.ctx == nil {
		return nil, errors.New("audio: host must not be nil")
	}
	if cfg.SampleRate <= 0 {
		return nil, errors.New("audio: sample rate must be positive")
	}
	if cfg.Silence <= 0 {
		return nil, errors.New("audio: silence duration must be positive")
	}
	return &Recorder{host: host, cfg: cfg}, nil
}

// Record blocks until the energy gate closes one utterance or ctx is done.
// The capture device is opened per call so the microphone is released
// between turns.
func (r *Recorder) Record(ctx context.Context) (Utterance, error) {
	const channels = 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = uint32(r.cfg.SampleRate)
	cfg.Capture.Format = format
	cfg.Capture.Channels = channels
	cfg.Alsa.NoMMap = 1

	frames := make(chan []byte, 256)
	device, err := malgo.InitDevice(r.host.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(in) < n {
				return
			}
			buf := make([]byte, n)
			copy(buf, in[:n])
			select {
			case frames <- buf:
			default:
			}
		},
	})
	if err != nil {
		return Utterance{}, fmt.Errorf("audio: init capture device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return Utterance{}, fmt.Errorf("audio: start capture device: %w", err)
	}
	defer func() { _ = device.Stop() }()

	det := newUtteranceDetector(r.cfg)
	for {
		select {
		case <-ctx.Done():
			return Utterance{}, ctx.Err()
		case frame := <-frames:
			if det.feed(frame) {
				return Utterance{PCM: det.utterance(), SampleRate: r.cfg.SampleRate}, nil
			}
		}
	}
}
