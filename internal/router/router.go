package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"infomary-backend/internal/handlers"
	"infomary-backend/internal/middleware"
	"infomary-backend/internal/websocket"
)

// AudioPrefix is where locally stored clips are served from.
const AudioPrefix = "/api/v1/audio"

type Options struct {
	// AudioDir is the local clip directory; empty when clips live elsewhere.
	AudioDir    string
	FrontendURL string
	// MessagesPerMinute bounds message posting per client IP.
	MessagesPerMinute int
}

func New(
	sessionAuth *middleware.SessionAuth,
	chatHandler *handlers.ChatHandler,
	wsHub *websocket.Hub,
	opts Options,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(opts.FrontendURL))

	if opts.MessagesPerMinute < 1 {
		opts.MessagesPerMinute = 30
	}
	startLimiter := middleware.NewRateLimiter(10, time.Minute, middleware.ByRemoteAddr)
	messageLimiter := middleware.NewRateLimiter(opts.MessagesPerMinute, time.Minute, middleware.ByRemoteAddr)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Session Routes ────
		r.Route("/sessions", func(r chi.Router) {
			r.With(startLimiter.Middleware).Post("/", chatHandler.Start)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(sessionAuth.Middleware)
				r.With(messageLimiter.Middleware).Post("/messages", chatHandler.SendMessage)
				r.Put("/settings", chatHandler.UpdateSettings)
				r.Post("/resume", chatHandler.Resume)
				r.Get("/transcript", chatHandler.Transcript)
				r.Get("/rounds", chatHandler.Rounds)
				r.Post("/transcribe", chatHandler.Transcribe)
				r.Delete("/", chatHandler.End)
			})
		})

		// ──── Audio Clips (local storage only) ────
		if opts.AudioDir != "" {
			fs := http.StripPrefix(AudioPrefix, http.FileServer(http.Dir(opts.AudioDir)))
			r.Get("/audio/*", fs.ServeHTTP)
		}

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
