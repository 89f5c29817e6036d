package main

import (
	"log"
	"net/http"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Addr      string
	DBPath    string
	JWTSecret string
	TokenTTL  time.Duration

	PollDuration     time.Duration
	QuestionCooldown time.Duration
	PollCooldown     time.Duration
	VoteCooldown     time.Duration
	QuestionOrder    string
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return d
}

func loadConfig() Config {
	return Config{
		Addr:             getenv("ADDR", ":8080"),
		DBPath:           getenv("DB_PATH", "askroom.db"),
		JWTSecret:        getenv("JWT_SECRET", "askroom-dev-secret"),
		TokenTTL:         getenvDuration("TOKEN_TTL", time.Hour),
		PollDuration:     getenvDuration("POLL_DURATION", 5*time.Minute),
		QuestionCooldown: getenvDuration("QUESTION_COOLDOWN", 30*time.Second),
		PollCooldown:     getenvDuration("POLL_COOLDOWN", time.Minute),
		VoteCooldown:     getenvDuration("VOTE_COOLDOWN", time.Second),
		QuestionOrder:    getenv("QUESTION_ORDER", OrderInsertion),
	}
}

func main() {
	cfg := loadConfig()

	db, err := NewDatabase(cfg.DBPath)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	if err := db.CreateTables(); err != nil {
		log.Fatal("Failed to create tables:", err)
	}

	tokens := NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	gateway := NewGateway(tokens, cfg)
	server := NewServer(db, tokens, gateway)

	mux := server.RegisterRoutes()
	handler := corsMiddleware(mux)

	log.Printf("askroom server starting on %s", cfg.Addr)
	log.Printf("WebSocket endpoint: ws://localhost%s/ws", cfg.Addr)
	log.Printf("API endpoints: http://localhost%s/api/*", cfg.Addr)

	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		log.Fatal("Server failed:", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
