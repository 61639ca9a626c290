package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Redis (queue snapshot persistence)
	RedisURL   string
	QueueOwner string // Keys the snapshot; one queue per owner/session

	// Render backend
	RenderBackendURL string
	RenderBackendKey string

	// Scheduler
	MaxConcurrentRenders int
	TickInterval         time.Duration
	MaxJobDuration       time.Duration // 0 = no per-job deadline

	// Supabase (composed asset hosting)
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// OpenAI (script generation + Whisper transcription)
	OpenAIKey string

	// Gemini (image generation)
	GeminiKey        string
	GeminiImageModel string

	// ElevenLabs (TTS voiceover)
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	// Pexels (stock footage search)
	PexelsKey string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),

		RedisURL:   getEnv("REDIS_URL", "redis://localhost:6379"),
		QueueOwner: getEnv("QUEUE_OWNER", "default"),

		RenderBackendURL: getEnv("RENDER_BACKEND_URL", ""),
		RenderBackendKey: getEnv("RENDER_BACKEND_KEY", ""),

		MaxConcurrentRenders: getEnvInt("MAX_CONCURRENT_RENDERS", 2),
		TickInterval:         getEnvDuration("TICK_INTERVAL", 2*time.Second),
		MaxJobDuration:       getEnvDuration("MAX_JOB_DURATION", 0),

		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "reelforge-assets"),

		OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
		GeminiKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiImageModel: getEnv("GEMINI_IMAGE_MODEL", ""),

		ElevenLabsKey:     getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID: getEnv("ELEVENLABS_VOICE_ID", ""),

		PexelsKey: getEnv("PEXELS_API_KEY", ""),
	}

	// Validate required fields
	if cfg.RenderBackendURL == "" {
		return nil, fmt.Errorf("RENDER_BACKEND_URL is required")
	}

	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	if cfg.GeminiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	if cfg.ElevenLabsKey == "" {
		return nil, fmt.Errorf("ELEVENLABS_API_KEY is required")
	}

	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
	}

	if cfg.MaxConcurrentRenders < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_RENDERS must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
