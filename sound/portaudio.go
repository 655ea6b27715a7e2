package sound

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gordonklaus/portaudio"
)

// ErrInvalidFormat is returned when Play is given a format it cannot open.
var ErrInvalidFormat = errors.New("invalid pcm format")

// PlayerConfig tunes the output stream.
type PlayerConfig struct {
	FramesPerBuffer int
}

// PortaudioPlayer plays PCM through the default output device.
type PortaudioPlayer struct {
	config PlayerConfig
}

var _ Player = (*PortaudioPlayer)(nil)

func NewPortaudioPlayer(config PlayerConfig) *PortaudioPlayer {
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = GetDefaultConfig().FramesPerBuffer
	}
	return &PortaudioPlayer{config: config}
}

func GetDefaultConfig() PlayerConfig {
	return PlayerConfig{
		FramesPerBuffer: 1024,
	}
}

func (p *PortaudioPlayer) Initialize() error {
	return portaudio.Initialize()
}

func (p *PortaudioPlayer) Terminate() {
	_ = portaudio.Terminate()
}

// Play opens a stream for format, plays r to the end and closes the stream.
// Cancelling ctx stops playback at the next buffer boundary.
func (p *PortaudioPlayer) Play(ctx context.Context, r io.Reader, format Format) error {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return fmt.Errorf("%w: %d Hz, %d channels", ErrInvalidFormat, format.SampleRate, format.Channels)
	}

	buffer := make([]int16, p.config.FramesPerBuffer*format.Channels)
	stream, err := portaudio.OpenDefaultStream(
		0,
		format.Channels,
		float64(format.SampleRate),
		p.config.FramesPerBuffer,
		buffer,
	)
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	defer stream.Stop()

	raw := make([]byte, len(buffer)*2)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := io.ReadFull(r, raw)
		if n > 0 {
			fillSamples(buffer, raw[:n])
			if err := stream.Write(); err != nil {
				return fmt.Errorf("failed to write audio: %w", err)
			}
		}

		switch {
		case readErr == nil:
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("failed to read pcm: %w", readErr)
		}
	}
}

// fillSamples converts little-endian bytes into dst, zero-filling the tail.
func fillSamples(dst []int16, raw []byte) {
	n := len(raw) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}
