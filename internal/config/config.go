package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	// Persistence. Setting DATABASE_PATH to the empty string selects an
	// in-memory database: sessions work normally but nothing survives a
	// restart.
	DatabasePath string
	SeedDataDir  string

	// External AI services.
	WhisperURL  string
	PiperURL    string
	PiperVoice  string
	OllamaURL   string
	OllamaModel string

	// LiveKit media server (token minting only).
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string

	// Conversation tuning.
	ConfidenceThreshold float64
	RetryLimit          int
	IdleTimeout         time.Duration
	RequestTimeout      time.Duration
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}

	cfg := Config{
		HTTPAddress:         envOr("HTTP_ADDRESS", ":8080"),
		DatabasePath:        envOrUnset("DATABASE_PATH", "data/survey_agent.db"),
		SeedDataDir:         os.Getenv("SEED_DATA_DIR"),
		WhisperURL:          envOr("WHISPER_URL", "http://localhost:8001"),
		PiperURL:            envOr("PIPER_URL", "http://localhost:8002"),
		PiperVoice:          envOr("PIPER_VOICE", "ur-PK-AsadNeural"),
		OllamaURL:           envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:         envOr("OLLAMA_MODEL", "llama3.1:8b"),
		LiveKitURL:          envOr("LIVEKIT_URL", "ws://localhost:7880"),
		LiveKitAPIKey:       os.Getenv("LIVEKIT_API_KEY"),
		LiveKitAPISecret:    os.Getenv("LIVEKIT_API_SECRET"),
		ConfidenceThreshold: envFloat("CONFIDENCE_THRESHOLD", 0.5),
		RetryLimit:          envInt("RETRY_LIMIT", 2),
		IdleTimeout:         envDuration("IDLE_TIMEOUT", 5*time.Minute),
		RequestTimeout:      envDuration("REQUEST_TIMEOUT", 10*time.Second),
	}

	if cfg.LiveKitAPIKey == "" || cfg.LiveKitAPISecret == "" {
		log.Println("Warning: LIVEKIT_API_KEY/LIVEKIT_API_SECRET not set - token endpoint will not work")
	}

	log.Printf("config: HTTP_ADDRESS=%s DATABASE_PATH=%s", cfg.HTTPAddress, cfg.DatabasePath)
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envOrUnset falls back to def only when key is absent; an explicitly empty
// value stays empty.
func envOrUnset(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %g", key, v, def)
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %s", key, v, def)
		return def
	}
	return d
}
