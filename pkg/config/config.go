package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

type Config struct {
	RunAddress     string
	BackendURL     string
	APIKey         string
	LogLevel       string
	SessionStore   string
	SessionFile    string
	SessionSecret  string
	SessionName    string
	DatabaseURI    string
	RequestTimeout time.Duration
	RefreshTimeout time.Duration
	ChatRateLimit  int // requests per minute for /api/chat, 0 disables
}

func defaults() Config {
	return Config{
		RunAddress:     "localhost:8080",
		BackendURL:     "http://localhost:54321",
		LogLevel:       "info",
		SessionStore:   StoreFile,
		SessionFile:    ".fyuze-session.json",
		SessionName:    "auth_data",
		RequestTimeout: 30 * time.Second,
		RefreshTimeout: 15 * time.Second,
		ChatRateLimit:  30,
	}
}

// Parse reads the configuration: defaults, then .env, then flags, then
// environment variables.
func Parse() *Config {
	// .env is optional
	_ = godotenv.Load()

	cfg := defaults()
	cfg.updateFromFlags(flag.CommandLine, os.Args[1:])
	cfg.updateFromEnv(os.LookupEnv)
	return &cfg
}

func (cfg *Config) updateFromFlags(fs *flag.FlagSet, args []string) {
	flagRunAddress := fs.String("a", cfg.RunAddress, "Server address.")
	flagBackendURL := fs.String("b", cfg.BackendURL, "Auth/search backend base URL.")
	flagSessionStore := fs.String("s", cfg.SessionStore, "Session store: memory, file or postgres.")
	flagDatabaseURI := fs.String("d", cfg.DatabaseURI, "Postgres DSN for the postgres session store.")
	flagLogLevel := fs.String("l", cfg.LogLevel, "Log level.")

	_ = fs.Parse(args)

	cfg.RunAddress = *flagRunAddress
	cfg.BackendURL = *flagBackendURL
	cfg.SessionStore = *flagSessionStore
	cfg.DatabaseURI = *flagDatabaseURI
	cfg.LogLevel = *flagLogLevel
}

func (cfg *Config) updateFromEnv(lookup func(string) (string, bool)) {
	if addr, ok := lookup("RUN_ADDRESS"); ok {
		cfg.RunAddress = addr
	}
	if u, ok := lookup("BACKEND_URL"); ok {
		cfg.BackendURL = u
	}
	if key, ok := lookup("API_KEY"); ok {
		cfg.APIKey = key
	}
	if lvl, ok := lookup("LOG_LEVEL"); ok {
		cfg.LogLevel = lvl
	}
	if s, ok := lookup("SESSION_STORE"); ok {
		cfg.SessionStore = s
	}
	if f, ok := lookup("SESSION_FILE"); ok {
		cfg.SessionFile = f
	}
	if secret, ok := lookup("SESSION_SECRET"); ok {
		cfg.SessionSecret = secret
	}
	if name, ok := lookup("SESSION_NAME"); ok {
		cfg.SessionName = name
	}
	if db, ok := lookup("DATABASE_URI"); ok {
		cfg.DatabaseURI = db
	}
	if d, ok := lookupDuration(lookup, "REQUEST_TIMEOUT"); ok {
		cfg.RequestTimeout = d
	}
	if d, ok := lookupDuration(lookup, "REFRESH_TIMEOUT"); ok {
		cfg.RefreshTimeout = d
	}
	if v, ok := lookup("CHAT_RATE_LIMIT"); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ChatRateLimit = n
		}
	}
}

func lookupDuration(lookup func(string) (string, bool), key string) (time.Duration, bool) {
	v, ok := lookup(key)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
