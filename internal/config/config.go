package config

import (
	"log"
	"os"
	"strconv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Redis (optional catalog cache)
	RedisHost     string
	RedisPort     int
	RedisPassword string

	// API
	APIPort int

	// Expiration scan trigger time, HH:MM (server local time)
	ScanSendTime string

	// Upstream plugin catalog
	CatalogURL          string
	CatalogSyncInterval int // minutes, 0 disables the sync
}

func Load() *Config {
	// Database password - warn if using default
	dbPassword := getEnv("DB_PASSWORD", "")
	if dbPassword == "" {
		log.Println("WARNING: DB_PASSWORD not set - this is insecure for production!")
		dbPassword = "changeme"
	}

	// Redis password - warn if using default
	redisPassword := getEnv("REDIS_PASSWORD", "")
	if redisPassword == "" {
		log.Println("WARNING: REDIS_PASSWORD not set - Redis is not secured!")
	}

	return &Config{
		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "proxpanel"),
		DBPassword: dbPassword,
		DBName:     getEnv("DB_NAME", "proxpanel_licenses"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnvInt("REDIS_PORT", 6379),
		RedisPassword: redisPassword,

		// API
		APIPort: getEnvInt("API_PORT", 8080),

		// Expiration scan
		ScanSendTime: getEnv("SCAN_SEND_TIME", "02:00"),

		// Plugin catalog
		CatalogURL:          getEnv("CATALOG_URL", ""),
		CatalogSyncInterval: getEnvInt("CATALOG_SYNC_MINUTES", 60),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
