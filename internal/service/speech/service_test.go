package speech_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/esp1745/voicerag/internal/service/speech"
)

// wavHeader is a minimal RIFF/WAVE prefix so format sniffing succeeds.
var wavHeader = []byte("RIFF\x24\x08\x00\x00WAVEfmt ")

func newClient(t *testing.T, handler http.HandlerFunc) *openai.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = server.URL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

func TestTranscribeEmptyAudio(t *testing.T) {
	svc := speech.NewService(nil, speech.Config{})

	_, err := svc.Transcribe(context.Background(), nil, "")
	if !errors.Is(err, speech.ErrTranscriptionFailed) {
		t.Fatalf("expected ErrTranscriptionFailed, got %v", err)
	}
}

func TestTranscribeUnknownContainer(t *testing.T) {
	svc := speech.NewService(nil, speech.Config{})

	_, err := svc.Transcribe(context.Background(), []byte("definitely not audio"), "")
	if !errors.Is(err, speech.ErrTranscriptionFailed) {
		t.Fatalf("expected ErrTranscriptionFailed for unknown container, got %v", err)
	}
}

func TestTranscribeEmptyTranscript(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Whitespace-only transcript, as Whisper returns for silence.
		w.Write([]byte("  \n"))
	})
	svc := speech.NewService(client, speech.Config{})

	_, err := svc.Transcribe(context.Background(), wavHeader, "")
	if !errors.Is(err, speech.ErrTranscriptionFailed) {
		t.Fatalf("expected ErrTranscriptionFailed for empty transcript, got %v", err)
	}
}

func TestTranscribeSuccess(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello from the microphone\n"))
	})
	svc := speech.NewService(client, speech.Config{})

	text, err := svc.Transcribe(context.Background(), wavHeader, "")
	if err != nil {
		t.Fatalf("Transcribe err: %v", err)
	}
	if text != "hello from the microphone" {
		t.Fatalf("unexpected transcript: %q", text)
	}
}

func TestTranscribeRetriesOnce(t *testing.T) {
	attempts := 0
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, `{"error":{"message":"upstream hiccup"}}`, http.StatusInternalServerError)
			return
		}
		w.Write([]byte("second time lucky"))
	})
	svc := speech.NewService(client, speech.Config{})

	text, err := svc.Transcribe(context.Background(), wavHeader, "")
	if err != nil {
		t.Fatalf("Transcribe err: %v", err)
	}
	if text != "second time lucky" {
		t.Fatalf("unexpected transcript: %q", text)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	svc := speech.NewService(nil, speech.Config{})

	_, _, err := svc.Synthesize(context.Background(), "   ")
	if !errors.Is(err, speech.ErrSynthesisFailed) {
		t.Fatalf("expected ErrSynthesisFailed, got %v", err)
	}
}

func TestSynthesizeSuccess(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mp3-bytes"))
	})
	svc := speech.NewService(client, speech.Config{})

	data, format, err := svc.Synthesize(context.Background(), "say this")
	if err != nil {
		t.Fatalf("Synthesize err: %v", err)
	}
	if string(data) != "mp3-bytes" || format != "mp3" {
		t.Fatalf("unexpected synthesis result: %q %q", data, format)
	}
}
