// Package miniaudio provides malgo-backed playback and capture devices
// satisfying the engine's PlaybackDevice and CaptureDevice contracts.
//
// The engine never depends on this package; it is wired in by callers that
// want real speakers and a real microphone (see cmd/loqui-chat).
package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

const (
	// DefaultPlaybackRate matches the model's PCM output.
	DefaultPlaybackRate = 24000
	// DefaultCaptureRate matches the fixed microphone capture rate the
	// engine sends upstream.
	DefaultCaptureRate = 16000
)

// Config tunes the device sample rates. Zero values take the defaults.
type Config struct {
	PlaybackRate int
	CaptureRate  int
}

// Device owns the shared malgo context plus one playback and one capture
// device. Close releases all three.
type Device struct {
	ctx      *malgo.AllocatedContext
	playback *Playback
	capture  *Capture
}

// Open initializes the audio backend and both devices. Playback starts
// immediately; capture starts on demand.
func Open(cfg Config) (*Device, error) {
	if cfg.PlaybackRate <= 0 {
		cfg.PlaybackRate = DefaultPlaybackRate
	}
	if cfg.CaptureRate <= 0 {
		cfg.CaptureRate = DefaultCaptureRate
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	d := &Device{ctx: ctx}

	d.playback, err = newPlayback(ctx, cfg.PlaybackRate)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("init playback: %w", err)
	}
	d.capture, err = newCapture(ctx, cfg.CaptureRate)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("init capture: %w", err)
	}
	return d, nil
}

// Playback returns the speaker device.
func (d *Device) Playback() *Playback { return d.playback }

// Capture returns the microphone device.
func (d *Device) Capture() *Capture { return d.capture }

// Close stops and releases both devices and the backend context.
func (d *Device) Close() error {
	if d.capture != nil {
		_ = d.capture.Stop()
		d.capture.uninit()
	}
	if d.playback != nil {
		d.playback.uninit()
	}
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
	}
	return nil
}

// Playback is a mono PCM16 speaker device. Write queues audio; the device
// callback pulls from the queue at its own pace.
type Playback struct {
	device *malgo.Device

	mu     sync.Mutex
	buffer []byte
}

func newPlayback(ctx *malgo.AllocatedContext, sampleRate int) (*Playback, error) {
	p := &Playback{}

	format := malgo.FormatS16
	channels := 1
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = uint32(sampleRate)
	config.Playback.Format = format
	config.Playback.Channels = uint32(channels)
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = uint32(sampleRate / 10)
	config.Periods = 4

	device, err := malgo.InitDevice(ctx.Context, config, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			p.fill(out, int(frameCount)*bytesPerFrame)
		},
	})
	if err != nil {
		return nil, err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start playback device: %w", err)
	}

	p.device = device
	return p, nil
}

// fill copies up to need bytes of queued audio into the device buffer;
// underruns play silence.
func (p *Playback) fill(out []byte, need int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buffer) == 0 {
		return
	}
	n := copy(out[:need], p.buffer)
	p.buffer = p.buffer[n:]
}

// Write queues PCM16 bytes for playback.
func (p *Playback) Write(pcm []byte) error {
	if p.device == nil {
		return fmt.Errorf("playback device not initialized")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffer = append(p.buffer, pcm...)
	return nil
}

// Clear drops all queued audio immediately, for interruptions.
func (p *Playback) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffer = nil
}

func (p *Playback) uninit() {
	if p.device != nil {
		p.device.Uninit()
		p.device = nil
	}
}

// Capture is a mono PCM16 microphone device delivering fixed-size frames
// through a callback.
type Capture struct {
	device *malgo.Device

	mu      sync.Mutex
	onFrame func(pcm []byte)
}

func newCapture(ctx *malgo.AllocatedContext, sampleRate int) (*Capture, error) {
	c := &Capture{}

	format := malgo.FormatS16
	channels := 1
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = uint32(sampleRate)
	config.Capture.Format = format
	config.Capture.Channels = uint32(channels)
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency
	config.PeriodSizeInFrames = 480
	config.Periods = 3

	device, err := malgo.InitDevice(ctx.Context, config, malgo.DeviceCallbacks{
		Data: func(_, in []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(in) < n {
				return
			}
			c.mu.Lock()
			onFrame := c.onFrame
			c.mu.Unlock()
			if onFrame != nil {
				frame := make([]byte, n)
				copy(frame, in[:n])
				onFrame(frame)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	c.device = device
	return c, nil
}

// Start begins delivering microphone frames to onFrame. Starting an already
// started device only swaps the callback.
func (c *Capture) Start(onFrame func(pcm []byte)) error {
	if c.device == nil {
		return fmt.Errorf("capture device not initialized")
	}
	c.mu.Lock()
	c.onFrame = onFrame
	c.mu.Unlock()

	if c.device.IsStarted() {
		return nil
	}
	if err := c.device.Start(); err != nil {
		return fmt.Errorf("start capture device: %w", err)
	}
	return nil
}

// Stop halts frame delivery. Stopping a stopped device is a no-op.
func (c *Capture) Stop() error {
	if c.device == nil {
		return fmt.Errorf("capture device not initialized")
	}
	c.mu.Lock()
	c.onFrame = nil
	c.mu.Unlock()

	if !c.device.IsStarted() {
		return nil
	}
	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("stop capture device: %w", err)
	}
	return nil
}

func (c *Capture) uninit() {
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
}
