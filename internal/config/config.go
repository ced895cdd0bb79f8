package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config for the client. Everything comes from the environment so the same
// binary works against local and deployed backends.
type Config struct {
	// ServerURL is the http(s) base of the backend. The websocket base is
	// derived from it by swapping the scheme.
	ServerURL string

	// TokenFile is where the bearer token is persisted between runs.
	TokenFile string

	// HTTPTimeout bounds every one-shot request so transport failures
	// surface as errors instead of hanging.
	HTTPTimeout time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".chess-client-token"
	}
	return filepath.Join(dir, "chess-client", "token")
}

func Load() Config {
	return Config{
		ServerURL:   getenv("CHESS_SERVER_URL", "http://localhost:8000"),
		TokenFile:   getenv("CHESS_TOKEN_FILE", defaultTokenFile()),
		HTTPTimeout: time.Duration(getenvInt("CHESS_HTTP_TIMEOUT_MS", 10000)) * time.Millisecond,
	}
}
