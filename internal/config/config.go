package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every setting the service reads.
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Speech    SpeechConfig
	Retrieval RetrievalConfig
	Store     StoreConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech := loadSpeechConfig()

	retrieval, err := loadRetrievalConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		AI:        ai,
		Speech:    speech,
		Retrieval: retrieval,
		Store:     loadStoreConfig(),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":8000" or "127.0.0.1:8000" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the chat model.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether the required credentials were provided.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a model instance from this configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("missing Ark credentials: provide ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// SpeechConfig describes the OpenAI audio/embedding API credentials and the
// models used for transcription and synthesis.
type SpeechConfig struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	SynthesisModel     string
	SynthesisVoice     string
	Enabled            bool
}

func loadSpeechConfig() SpeechConfig {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))

	return SpeechConfig{
		APIKey:             apiKey,
		BaseURL:            getEnvOrDefault("OPENAI_BASE_URL", ""),
		TranscriptionModel: getEnvOrDefault("WHISPER_MODEL", "whisper-1"),
		SynthesisModel:     getEnvOrDefault("TTS_MODEL", "tts-1"),
		SynthesisVoice:     getEnvOrDefault("TTS_VOICE", "alloy"),
		Enabled:            apiKey != "",
	}
}

// RetrievalConfig describes the vector index and embedding model.
type RetrievalConfig struct {
	MilvusAddress  string
	Collection     string
	EmbeddingModel string
	TopK           int
	ChunkSize      int
	ChunkOverlap   int
}

func loadRetrievalConfig() (RetrievalConfig, error) {
	topK := 3
	if override, err := parseOptionalIntEnv("RAG_TOP_K"); err != nil {
		return RetrievalConfig{}, err
	} else if override != nil && *override > 0 {
		topK = *override
	}

	chunkSize := 1000
	if override, err := parseOptionalIntEnv("RAG_CHUNK_SIZE"); err != nil {
		return RetrievalConfig{}, err
	} else if override != nil && *override > 0 {
		chunkSize = *override
	}

	chunkOverlap := 200
	if override, err := parseOptionalIntEnv("RAG_CHUNK_OVERLAP"); err != nil {
		return RetrievalConfig{}, err
	} else if override != nil && *override >= 0 {
		chunkOverlap = *override
	}

	return RetrievalConfig{
		MilvusAddress:  getEnvOrDefault("MILVUS_ADDRESS", "localhost:19530"),
		Collection:     getEnvOrDefault("MILVUS_COLLECTION", "voicerag_passages"),
		EmbeddingModel: getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-ada-002"),
		TopK:           topK,
		ChunkSize:      chunkSize,
		ChunkOverlap:   chunkOverlap,
	}, nil
}

// StoreConfig describes local persistence.
type StoreConfig struct {
	DataDir string
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		DataDir: getEnvOrDefault("DATA_DIR", "./data"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
