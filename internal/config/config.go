package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port             string
	MongoURI         string
	DatabaseName     string
	Environment      string
	FingerprintKey   string
	PrefixLength     int
	MLWeight         float64
	AdvancedWeight   float64
	DetectThreshold  float64
	RetrainInterval  time.Duration
	TrainingTimeout  time.Duration
	AdvancedTimeout  time.Duration
	ModelsDir        string
	ModelKeepCount   int
	FeedFile         string
	PrefixFeedFile   string
	RateLimit        int
	MaxURLLength     int
}

func Load() *Config {
	return &Config{
		Port:            getEnvOrDefault("PORT", "8080"),
		MongoURI:        getEnvOrDefault("MONGODB_URI", "mongodb://localhost:27017"),
		DatabaseName:    getEnvOrDefault("DATABASE_NAME", "phishguard"),
		Environment:     getEnvOrDefault("ENVIRONMENT", "development"),
		FingerprintKey:  getEnvOrDefault("FINGERPRINT_KEY", "dev-only-fingerprint-key"),
		PrefixLength:    getEnvIntOrDefault("PREFIX_LENGTH", 12),
		MLWeight:        getEnvFloatOrDefault("ML_WEIGHT", 0.6),
		AdvancedWeight:  getEnvFloatOrDefault("ADV_WEIGHT", 0.4),
		DetectThreshold: getEnvFloatOrDefault("DETECT_THRESHOLD", 0.5),
		RetrainInterval: time.Duration(getEnvIntOrDefault("RETRAIN_INTERVAL_HOURS", 24)) * time.Hour,
		TrainingTimeout: time.Duration(getEnvIntOrDefault("TRAINING_TIMEOUT_MINUTES", 30)) * time.Minute,
		AdvancedTimeout: time.Duration(getEnvIntOrDefault("ADVANCED_TIMEOUT_SECONDS", 5)) * time.Second,
		ModelsDir:       getEnvOrDefault("MODELS_DIR", "models"),
		ModelKeepCount:  getEnvIntOrDefault("MODEL_KEEP_COUNT", 5),
		FeedFile:        getEnvOrDefault("FEED_FILE", "openphish.txt"),
		PrefixFeedFile:  getEnvOrDefault("PREFIX_FEED_FILE", ""),
		RateLimit:       getEnvIntOrDefault("RATE_LIMIT", 100),
		MaxURLLength:    getEnvIntOrDefault("MAX_URL_LENGTH", 2048),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
