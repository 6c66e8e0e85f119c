package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	GeminiAPIKey     string
	GeminiModel      string
	GeminiImageModel string

	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIImageModel string

	TelegramBotToken string
	WebhookURL       string

	MaxStepAttempts   int
	DefaultTotalSteps int
	MaxImageDim       int
}

func mustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("missing required env %s", k)
	}
	return v
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Printf("ignoring bad %s=%q, using %d", k, v, def)
	}
	return def
}

func Load() *Config {
	// .env is optional; real deployments set env vars directly.
	_ = godotenv.Load()

	return &Config{
		Port: getEnv("PORT", "8000"),

		GeminiAPIKey:     mustEnv("GEMINI_API_KEY"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiImageModel: getEnv("GEMINI_IMAGE_MODEL", "gemini-2.0-flash-preview-image-generation"),

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIImageModel: getEnv("OPENAI_IMAGE_MODEL", "gpt-image-1"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),

		MaxStepAttempts:   getEnvInt("MAX_STEP_ATTEMPTS", 3),
		DefaultTotalSteps: getEnvInt("DEFAULT_TOTAL_STEPS", 6),
		MaxImageDim:       getEnvInt("MAX_IMAGE_DIM", 1024),
	}
}
