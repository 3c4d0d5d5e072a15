package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// CaptureConfig controls the microphone and the energy gate that decides
// where an utterance begins and ends.
type CaptureConfig struct {
	SampleRate int
	// EnergyThreshold is the frame RMS, on the int16 sample scale, above
	// which a frame counts as speech.
	EnergyThreshold float64
	// Silence is how long quiet must last after speech to end the utterance.
	Silence time.Duration
	// MaxUtterance caps the utterance length.
	MaxUtterance time.Duration
	// PreRoll keeps audio from just before speech starts.
	PreRoll time.Duration
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate:      16000,
		EnergyThreshold: 500,
		Silence:         800 * time.Millisecond,
		MaxUtterance:    30 * time.Second,
		PreRoll:         300 * time.Millisecond,
	}
}

// utteranceDetector accumulates mono PCM16LE frames and reports when one
// utterance is complete.
type utteranceDetector struct {
	threshold    float64
	silenceBytes int
	maxBytes     int
	preRollBytes int

	started    bool
	quietBytes int
	pre        []byte
	pcm        []byte
}

func newUtteranceDetector(cfg CaptureConfig) *utteranceDetector {
	return &utteranceDetector{
		threshold:    cfg.EnergyThreshold,
		silenceBytes: durationBytes(cfg.Silence, cfg.SampleRate),
		maxBytes:     durationBytes(cfg.MaxUtterance, cfg.SampleRate),
		preRollBytes: durationBytes(cfg.PreRoll, cfg.SampleRate),
	}
}

func durationBytes(d time.Duration, sampleRate int) int {
	samples := int64(d) * int64(sampleRate) / int64(time.Second)
	return int(samples) * 2
}

// feed consumes one frame and returns true once the utterance is complete.
func (d *utteranceDetector) feed(frame []byte) bool {
	loud := frameRMS(frame) >= d.threshold
	if !d.started {
		if !loud {
			d.pre = append(d.pre, frame...)
			if excess := len(d.pre) - d.preRollBytes; excess > 0 {
				d.pre = d.pre[excess:]
			}
			return false
		}
		d.started = true
		d.pcm = append(d.pcm, d.pre...)
		d.pre = nil
	}

	d.pcm = append(d.pcm, frame...)
	if loud {
		d.quietBytes = 0
	} else {
		d.quietBytes += len(frame)
	}
	if d.maxBytes > 0 && len(d.pcm) >= d.maxBytes {
		return true
	}
	return d.quietBytes >= d.silenceBytes
}

func (d *utteranceDetector) utterance() []byte {
	return d.pcm
}

// frameRMS returns the root mean square of a PCM16LE frame.
func frameRMS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(frame); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(frame[i:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
