package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"infomary-backend/internal/config"
	"infomary-backend/internal/database"
	"infomary-backend/internal/handlers"
	"infomary-backend/internal/llm"
	"infomary-backend/internal/middleware"
	"infomary-backend/internal/repository"
	"infomary-backend/internal/retrieval"
	"infomary-backend/internal/router"
	"infomary-backend/internal/services"
	"infomary-backend/internal/session"
	"infomary-backend/internal/speech"
	"infomary-backend/internal/triage"
	"infomary-backend/internal/websocket"
	"infomary-backend/internal/worker"
)

func main() {
	log.Println("🚀 Starting InfoMary Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("✗ Invalid configuration: %v", err)
	}
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	if err := database.RunMigrations(pool, "migrations"); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	sessionTTL := time.Duration(cfg.SessionTTLHours) * time.Hour
	sessionStore, err := session.NewStore(cfg.SessionStore, redisClients.State, sessionTTL)
	if err != nil {
		log.Fatalf("✗ Session store initialization failed: %v", err)
	}
	log.Printf("✓ Session store ready (%s)", cfg.SessionStore)

	// ──── Step 4: Initialize LLM Client ────
	llmTimeout := time.Duration(cfg.LLMTimeoutSeconds) * time.Second
	llmClient, closeLLM, err := newLLMClient(cfg, llmTimeout)
	if err != nil {
		log.Fatalf("✗ LLM client initialization failed: %v", err)
	}
	defer closeLLM()
	log.Printf("✓ LLM client initialized (%s)", cfg.LLMProvider)

	// ──── Step 5: Initialize Retrieval ────
	embedder, closeEmbedder, err := newEmbedder(cfg)
	if err != nil {
		log.Fatalf("✗ Embedder initialization failed: %v", err)
	}
	defer closeEmbedder()

	vectorStore, err := retrieval.NewQdrantStore(retrieval.QdrantConfig{
		URL:            cfg.QdrantURL,
		APIKey:         cfg.QdrantAPIKey,
		CollectionName: cfg.QdrantCollection,
		Dimensions:     cfg.EmbeddingDimensions,
	})
	if err != nil {
		log.Fatalf("✗ Qdrant client initialization failed: %v", err)
	}
	defer vectorStore.Close()
	retriever := retrieval.NewRetriever(embedder, vectorStore, llmTimeout)
	log.Printf("✓ Retriever ready (collection %s)", cfg.QdrantCollection)

	// ──── Step 6: Initialize Speech ────
	audioStore, audioDir, err := newAudioStore(cfg)
	if err != nil {
		log.Fatalf("✗ Audio storage initialization failed: %v", err)
	}
	speechService := speech.NewService(speech.Config{APIKey: cfg.OpenAIAPIKey}, audioStore)
	if speechService.Enabled() {
		log.Printf("✓ Speech enabled (storage %s)", cfg.StorageType)
	} else {
		log.Println("✓ Speech disabled (no OPENAI_API_KEY)")
	}

	janitor := speech.NewJanitor(audioStore, time.Duration(cfg.AudioRetentionHours)*time.Hour)
	janitor.Start()

	// ──── Step 7: Initialize Triage & Services ────
	controller := triage.New(llmClient, retriever, speechService, triage.Options{
		TopK:             cfg.RetrievalTopK,
		MaxRegenerations: cfg.MaxRegenerations,
	})

	sessionAuth := middleware.NewSessionAuth(cfg.SessionSecret, sessionTTL)
	dispatcher := worker.NewDispatcher(0, 0)
	publisher := websocket.NewPublisher(redisClients.PubSub)
	transcriptRepo := repository.NewTranscriptRepo(pool)

	chatService := services.NewChatService(
		sessionStore,
		transcriptRepo,
		controller,
		dispatcher,
		publisher,
		speechService,
		sessionAuth,
	)
	chatHandler := handlers.NewChatHandler(chatService)
	log.Println("✓ Triage controller ready")

	// ──── Step 8: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, sessionAuth)
	log.Println("✓ WebSocket hub started")

	// ──── Step 9: Start HTTP Server ────
	r := router.New(sessionAuth, chatHandler, wsHub, router.Options{
		AudioDir:    audioDir,
		FrontendURL: cfg.FrontendURL,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: turnWriteTimeout(llmTimeout, speech.DefaultTimeout, cfg.MaxRegenerations),
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)

		dispatcher.Stop()
		janitor.Stop()
	}()

	log.Printf("✓ InfoMary Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

// questionsPerBatch is the most follow-up questions the generator is asked for.
const questionsPerBatch = 5

// turnWriteTimeout covers the slowest regular turn: embedding, classification,
// every generation with its validations, advice, then two syntheses. Turns
// past it still finish and are saved; the client gets them over the socket.
func turnWriteTimeout(llmTimeout, speechTimeout time.Duration, maxRegenerations int) time.Duration {
	calls := 3 + maxRegenerations*(1+questionsPerBatch)
	return time.Duration(calls)*llmTimeout + 2*speechTimeout + 15*time.Second
}

func newLLMClient(cfg *config.Config, timeout time.Duration) (llm.Client, func(), error) {
	switch cfg.LLMProvider {
	case "gemini":
		client, err := llm.NewGeminiClient(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, timeout, cfg.LLMConcurrentReqs)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { client.Close() }, nil
	case "openai":
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:         cfg.OpenAIAPIKey,
			Model:          cfg.OpenAIChatModel,
			Timeout:        timeout,
			ConcurrentReqs: cfg.LLMConcurrentReqs,
		}), func() {}, nil
	default:
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:         cfg.FireworksAPIKey,
			BaseURL:        cfg.FireworksBaseURL,
			Model:          cfg.FireworksModel,
			Timeout:        timeout,
			ConcurrentReqs: cfg.LLMConcurrentReqs,
		}), func() {}, nil
	}
}

func newEmbedder(cfg *config.Config) (retrieval.Embedder, func(), error) {
	if cfg.EmbeddingProvider == "gemini" {
		e, err := retrieval.NewGeminiEmbedder(context.Background(), cfg.GeminiAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return nil, nil, err
		}
		return e, func() { e.Close() }, nil
	}
	return retrieval.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions), func() {}, nil
}

// newAudioStore returns the clip store and, for local storage, the directory
// the router should serve.
func newAudioStore(cfg *config.Config) (speech.AudioStore, string, error) {
	if cfg.StorageType == "supabase" {
		store, err := speech.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket)
		if err != nil {
			return nil, "", err
		}
		return store, "", nil
	}
	store, err := speech.NewLocalStore(cfg.StoragePath, router.AudioPrefix)
	if err != nil {
		return nil, "", err
	}
	return store, store.Root(), nil
}
