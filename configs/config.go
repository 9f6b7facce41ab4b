package config

import (
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PublicURL  string
}

type Config struct {
	InstagramClientID     string
	InstagramClientSecret string
	InstagramRedirectURI  string
	FacebookAppID         string
	FacebookAppSecret     string
	FacebookRedirectURI   string
	MastodonServer        string
	MastodonClientID      string
	MastodonClientSecret  string
	MastodonRedirectURI   string
	BlueskyPDS            string
	GoogleClientID        string
	GoogleClientSecret    string
	GoogleRedirectURI     string
	PostgresURI           string
	RedisURI              string
	FrontendURL           string
	R2                    R2
	SecretKey             string
	CookieName            string
	SchedulerInterval     time.Duration
	SchedulerWorkers      int
}

func LoadConfig() *Config {
	return &Config{
		InstagramClientID:     getEnv("INSTAGRAM_CLIENT_ID", ""),
		InstagramClientSecret: getEnv("INSTAGRAM_CLIENT_SECRET", ""),
		InstagramRedirectURI:  getEnv("INSTAGRAM_REDIRECT_URI", ""),
		FacebookAppID:         getEnv("FACEBOOK_APP_ID", ""),
		FacebookAppSecret:     getEnv("FACEBOOK_APP_SECRET", ""),
		FacebookRedirectURI:   getEnv("FACEBOOK_REDIRECT_URI", ""),
		MastodonServer:        getEnv("MASTODON_SERVER", "https://mastodon.social"),
		MastodonClientID:      getEnv("MASTODON_CLIENT_ID", ""),
		MastodonClientSecret:  getEnv("MASTODON_CLIENT_SECRET", ""),
		MastodonRedirectURI:   getEnv("MASTODON_REDIRECT_URI", ""),
		BlueskyPDS:            getEnv("BLUESKY_PDS", "https://bsky.social"),
		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:     getEnv("GOOGLE_REDIRECT_URI", ""),
		PostgresURI:           getEnv("POSTGRES_URI", ""),
		RedisURI:              getEnv("REDIS_URI", ""),
		FrontendURL:           getEnv("FRONTEND_URL", "http://localhost:5173"),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicURL:  getEnv("R2_PUBLIC_URL", ""),
		},
		SecretKey:         getEnv("SECRET_KEY", ""),
		CookieName:        getEnv("COOKIE_NAME", "postmux_session"),
		SchedulerInterval: getEnvDuration("SCHEDULER_INTERVAL", time.Minute),
		SchedulerWorkers:  getEnvInt("SCHEDULER_WORKERS", 5),
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
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
