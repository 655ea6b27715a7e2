package tts

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	speechkit "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/tts/v3"

	"github.com/d1nch8g/boli/sound"
)

const (
	YandexTTSEndpoint = "tts.api.cloud.yandex.net:443"
)

// yandexVoices is the SpeechKit v3 voice catalogue. The API has no listing
// call, so enumeration reports this table.
var yandexVoices = []Voice{
	{Language: "ru-RU", Identifier: "alena", Name: "Alena"},
	{Language: "ru-RU", Identifier: "filipp", Name: "Filipp"},
	{Language: "ru-RU", Identifier: "marina", Name: "Marina"},
	{Language: "en-US", Identifier: "john", Name: "John"},
	{Language: "de-DE", Identifier: "lea", Name: "Lea"},
	{Language: "he-IL", Identifier: "naomi", Name: "Naomi"},
	{Language: "kk-KZ", Identifier: "madi", Name: "Madi"},
	{Language: "uz-UZ", Identifier: "nigora", Name: "Nigora"},
}

type YandexConfig struct {
	ApiKey       string
	FolderID     string
	Endpoint     string
	Model        string
	DefaultVoice string
}

// Yandex speaks through SpeechKit: MP3 is synthesized over gRPC, decoded and
// played on the local output device.
type Yandex struct {
	client speechkit.SynthesizerClient
	conn   *grpc.ClientConn
	player sound.Player
	config YandexConfig
	logger *log.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	speaking bool
	stopped  bool
}

var _ Engine = (*Yandex)(nil)

func NewYandex(config YandexConfig, player sound.Player, logger *log.Logger) (*Yandex, error) {
	if config.Endpoint == "" {
		config.Endpoint = YandexTTSEndpoint
	}
	if config.Model == "" {
		config.Model = "general"
	}
	if config.DefaultVoice == "" {
		config.DefaultVoice = "marina"
	}
	if logger == nil {
		logger = log.Default()
	}

	creds := credentials.NewTLS(&tls.Config{})

	conn, err := grpc.Dial(config.Endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS service: %w", err)
	}

	return &Yandex{
		client: speechkit.NewSynthesizerClient(conn),
		conn:   conn,
		player: player,
		config: config,
		logger: logger.WithPrefix("yandex"),
	}, nil
}

// Voices reports the static catalogue.
func (y *Yandex) Voices(_ context.Context) ([]Voice, error) {
	voices := make([]Voice, len(yandexVoices))
	copy(voices, yandexVoices)
	return voices, nil
}

func (y *Yandex) Speak(ctx context.Context, u Utterance, started func()) error {
	if strings.TrimSpace(u.Text) == "" {
		return ErrEmptyText
	}

	y.mu.Lock()
	if y.speaking {
		y.mu.Unlock()
		return ErrEngineBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	y.cancel = cancel
	y.speaking = true
	y.stopped = false
	y.mu.Unlock()

	defer func() {
		cancel()
		y.mu.Lock()
		y.speaking = false
		y.cancel = nil
		y.mu.Unlock()
	}()

	err := y.speak(ctx, u, started)
	if err != nil && y.wasStopped() {
		return ErrStopped
	}
	return err
}

func (y *Yandex) speak(ctx context.Context, u Utterance, started func()) error {
	var audio bytes.Buffer
	if err := y.synthesize(ctx, u, &audio); err != nil {
		return err
	}

	pcm, format, err := sound.DecodeMP3(&audio)
	if err != nil {
		return err
	}

	if started != nil {
		started()
	}

	if err := y.player.Play(ctx, pcm, format); err != nil {
		return fmt.Errorf("failed to play synthesized audio: %w", err)
	}
	return nil
}

func (y *Yandex) synthesize(ctx context.Context, u Utterance, w io.Writer) error {
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Api-Key "+y.config.ApiKey)
	ctx = metadata.AppendToOutgoingContext(ctx, "x-folder-id", y.config.FolderID)

	voice := y.voiceFor(u.Language)
	y.logger.Debug("synthesize", "voice", voice, "language", u.Language, "rate", u.Rate, "text_length", len(u.Text))

	stream, err := y.client.UtteranceSynthesis(ctx, y.buildRequest(u, voice))
	if err != nil {
		return fmt.Errorf("failed to start synthesis: %w", err)
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to receive audio data: %w", err)
		}

		if chunk := resp.GetAudioChunk(); chunk != nil {
			if _, err := w.Write(chunk.GetData()); err != nil {
				return fmt.Errorf("failed to buffer audio data: %w", err)
			}
		}
	}
}

func (y *Yandex) buildRequest(u Utterance, voice string) *speechkit.UtteranceSynthesisRequest {
	req := &speechkit.UtteranceSynthesisRequest{}
	req.SetModel(y.config.Model)
	req.SetText(u.Text)

	voiceHint := &speechkit.Hints{}
	voiceHint.SetVoice(voice)

	speedHint := &speechkit.Hints{}
	speedHint.SetSpeed(u.Rate)

	// SpeechKit has no absolute pitch; the default voice pitch is used.
	req.SetHints([]*speechkit.Hints{voiceHint, speedHint})

	audioSpec := &speechkit.AudioFormatOptions{}
	containerAudio := &speechkit.ContainerAudio{}
	containerAudio.SetContainerAudioType(speechkit.ContainerAudio_MP3)
	audioSpec.SetContainerAudio(containerAudio)
	req.SetOutputAudioSpec(audioSpec)

	req.SetLoudnessNormalizationType(speechkit.UtteranceSynthesisRequest_LUFS)

	return req
}

// voiceFor picks the first catalogue voice in the requested language family.
func (y *Yandex) voiceFor(tag string) string {
	if tag != "" {
		base := strings.ToLower(strings.SplitN(NormalizeTag(tag), "-", 2)[0])
		for _, v := range yandexVoices {
			if strings.HasPrefix(strings.ToLower(v.Language), base+"-") {
				return v.Identifier
			}
		}
	}
	return y.config.DefaultVoice
}

func (y *Yandex) wasStopped() bool {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.stopped
}

// Stop cancels the in-flight synthesis or playback, if any.
func (y *Yandex) Stop() error {
	y.mu.Lock()
	defer y.mu.Unlock()

	if y.cancel != nil {
		y.stopped = true
		y.cancel()
	}
	return nil
}

func (y *Yandex) IsSpeaking() bool {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.speaking
}

func (y *Yandex) Close() error {
	return y.conn.Close()
}
