package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var (
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrSynthesisFailed     = errors.New("synthesis failed")
)

// Config selects the external speech models.
type Config struct {
	TranscriptionModel string
	SynthesisModel     string
	SynthesisVoice     string
}

// Service performs speech-to-text and text-to-speech through the OpenAI audio
// APIs. Each call is a single blocking request with one transient retry.
type Service struct {
	client *openai.Client
	cfg    Config
}

// NewService wraps an OpenAI client for the configured models.
func NewService(client *openai.Client, cfg Config) *Service {
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = openai.Whisper1
	}
	if cfg.SynthesisModel == "" {
		cfg.SynthesisModel = string(openai.TTSModel1)
	}
	if cfg.SynthesisVoice == "" {
		cfg.SynthesisVoice = string(openai.VoiceAlloy)
	}
	return &Service{client: client, cfg: cfg}
}

// Transcribe converts audio bytes to text. The container format is sniffed
// from the payload when the caller does not name one.
func (s *Service) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: empty audio payload", ErrTranscriptionFailed)
	}

	if format == "" {
		format = DetectFormat(audio)
	}
	if format == "" {
		return "", fmt.Errorf("%w: unrecognized audio container", ErrTranscriptionFailed)
	}

	req := openai.AudioRequest{
		Model:    s.cfg.TranscriptionModel,
		Reader:   bytes.NewReader(audio),
		FilePath: "audio." + format,
		Format:   openai.AudioResponseFormatText,
	}

	resp, err := s.client.CreateTranscription(ctx, req)
	if err != nil && retryable(ctx, err) {
		log.Printf("[speech] transcription retry after transient error: %v", err)
		req.Reader = bytes.NewReader(audio)
		resp, err = s.client.CreateTranscription(ctx, req)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%w: no speech detected", ErrTranscriptionFailed)
	}
	return text, nil
}

// Synthesize converts text to encoded audio bytes, returning the container
// format alongside.
func (s *Service) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", fmt.Errorf("%w: empty text", ErrSynthesisFailed)
	}

	req := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.cfg.SynthesisModel),
		Input:          text,
		Voice:          openai.SpeechVoice(s.cfg.SynthesisVoice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	}

	data, err := s.createSpeech(ctx, req)
	if err != nil && retryable(ctx, err) {
		log.Printf("[speech] synthesis retry after transient error: %v", err)
		data, err = s.createSpeech(ctx, req)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	return data, "mp3", nil
}

func (s *Service) createSpeech(ctx context.Context, req openai.CreateSpeechRequest) ([]byte, error) {
	resp, err := s.client.CreateSpeech(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty audio response")
	}
	return data, nil
}

// retryable allows exactly one retry, and only when the caller has not
// already given up.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
