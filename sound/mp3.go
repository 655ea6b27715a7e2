package sound

import (
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 wraps an MP3 stream in a PCM reader. go-mp3 always yields
// 16-bit stereo samples.
func DecodeMP3(r io.Reader) (io.Reader, Format, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, Format{}, fmt.Errorf("failed to decode mp3: %w", err)
	}

	return dec, Format{SampleRate: dec.SampleRate(), Channels: 2}, nil
}
