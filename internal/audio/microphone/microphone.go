// Package microphone captures PCM16 audio from the host's default input
// device through miniaudio.
package microphone

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/lexiqai/voice-assistant/internal/observability"
)

const (
	channels = 1
	format   = malgo.FormatS16
)

// Device owns a miniaudio context. Streams are opened per call so the
// input device is only held while something is listening.
type Device struct {
	sampleRate int

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// Open initializes the audio backend for mono PCM16 capture at sampleRate.
func Open(sampleRate int) (*Device, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger := observability.GetLogger()
		logger.Debug().Str("component", "malgo").Msg(message)
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Device{sampleRate: sampleRate, ctx: audioCtx}, nil
}

// SampleRate is the capture rate in Hz.
func (d *Device) SampleRate() int { return d.sampleRate }

// Stream records from the default input device and hands each chunk to
// onAudio until ctx is done. Chunks are copies and may be retained.
func (d *Device) Stream(ctx context.Context, onAudio func([]byte)) error {
	d.mu.Lock()
	audioCtx := d.ctx
	d.mu.Unlock()
	if audioCtx == nil {
		return errors.New("microphone closed")
	}

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = uint32(d.sampleRate)
	config.Capture.Format = format
	config.Capture.Channels = channels
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency

	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n > len(input) {
				n = len(input)
			}
			if n == 0 {
				return
			}
			chunk := make([]byte, n)
			copy(chunk, input[:n])
			onAudio(chunk)
		},
	}

	device, err := malgo.InitDevice(audioCtx.Context, config, callbacks)
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("start capture device: %w", err)
	}
	<-ctx.Done()
	if device.IsStarted() {
		if err := device.Stop(); err != nil {
			return fmt.Errorf("stop capture device: %w", err)
		}
	}
	return nil
}

// Names lists the capture devices the backend can see.
func (d *Device) Names() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil, errors.New("microphone closed")
	}
	infos, err := d.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

// Close releases the audio backend. Streams must have returned first.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil
	}
	err := d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil
	return err
}
