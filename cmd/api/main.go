package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"github.com/sashabaranov/go-openai"

	"github.com/esp1745/voicerag/internal/config"
	"github.com/esp1745/voicerag/internal/handler"
	"github.com/esp1745/voicerag/internal/service/ai"
	conversationservice "github.com/esp1745/voicerag/internal/service/conversation"
	"github.com/esp1745/voicerag/internal/service/orchestrator"
	"github.com/esp1745/voicerag/internal/service/retrieval"
	"github.com/esp1745/voicerag/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	convSvc, err := conversationservice.NewService(cfg.Store.DataDir)
	if err != nil {
		log.Fatalf("failed to open conversation store: %v", err)
	}

	// The OpenAI client backs both speech and embeddings.
	var openaiClient *openai.Client
	if cfg.Speech.Enabled {
		clientCfg := openai.DefaultConfig(cfg.Speech.APIKey)
		if cfg.Speech.BaseURL != "" {
			clientCfg.BaseURL = cfg.Speech.BaseURL
		}
		openaiClient = openai.NewClientWithConfig(clientCfg)
	} else {
		log.Println("OPENAI_API_KEY not set, speech and retrieval disabled")
	}

	var speechSvc *speech.Service
	if openaiClient != nil {
		speechSvc = speech.NewService(openaiClient, speech.Config{
			TranscriptionModel: cfg.Speech.TranscriptionModel,
			SynthesisModel:     cfg.Speech.SynthesisModel,
			SynthesisVoice:     cfg.Speech.SynthesisVoice,
		})
		log.Println("speech service initialized")
	}

	var retrievalSvc *retrieval.Service
	if openaiClient != nil {
		milvus, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
			Address: cfg.Retrieval.MilvusAddress,
		})
		if err != nil {
			log.Printf("warning: failed to connect to Milvus at %s: %v", cfg.Retrieval.MilvusAddress, err)
			log.Println("continuing without document retrieval")
		} else {
			embedder := retrieval.NewOpenAIEmbedder(openaiClient, cfg.Retrieval.EmbeddingModel)
			index := retrieval.NewMilvusIndex(milvus, cfg.Retrieval.Collection)
			retrievalSvc = retrieval.NewService(embedder, index, retrieval.Options{
				ChunkSize:    cfg.Retrieval.ChunkSize,
				ChunkOverlap: cfg.Retrieval.ChunkOverlap,
				TopK:         cfg.Retrieval.TopK,
			})
			log.Printf("retrieval service initialized, collection=%s", cfg.Retrieval.Collection)
		}
	}

	var aiSvc *ai.Service
	if cfg.AI.Enabled() {
		aiSvc, err = ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without reply generation")
		} else {
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("Ark credentials not configured, skipping AI initialization")
	}

	// Interface values must stay nil when the service is absent.
	var retriever orchestrator.Retriever
	if retrievalSvc != nil {
		retriever = retrievalSvc
	}
	var generator orchestrator.Generator
	if aiSvc != nil {
		generator = aiSvc
	}
	var transcriber orchestrator.Transcriber
	var synthesizer orchestrator.Synthesizer
	if speechSvc != nil {
		transcriber = speechSvc
		synthesizer = speechSvc
	}

	turns := orchestrator.NewService(convSvc, retriever, generator, transcriber, synthesizer, cfg.Retrieval.TopK)

	router := handler.NewRouter(turns, convSvc, retrievalSvc)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("voicerag backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
