package server

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"clinrag/app/agent"
	"clinrag/app/api"
	"clinrag/app/middleware"
	"clinrag/loader"
	"clinrag/model"
	"clinrag/store"
)

var config = fiber.Config{
	ErrorHandler: api.ErrorHandler,
	BodyLimit:    20 * 1024 * 1024,
}

type Server struct {
	listenAddr string
	logger     *slog.Logger
	pool       *store.PostgresStore
}

func NewServer(addr string) *Server {
	return &Server{
		listenAddr: addr,
		logger:     slog.Default(),
	}
}

func (s *Server) Stop() {
	if s.pool != nil {
		s.pool.Close()
	}
	s.logger.Info("server stopped")
}

func (s *Server) Run() {
	ctx := context.Background()

	// history persistence is optional: without PG_HOST the service still
	// analyzes notes, it just keeps no records
	var historyStore store.DBStorer
	if os.Getenv("PG_HOST") != "" {
		port, _ := strconv.Atoi(os.Getenv("PG_PORT"))
		connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			os.Getenv("PG_HOST"), port, os.Getenv("PG_USER"), os.Getenv("PG_PASS"), os.Getenv("PG_DB_NAME"))
		pool, err := store.NewPostgresStore(ctx, connStr)
		if err != nil {
			log.Fatal("error to connect to Postgres database: ", err)
			return
		}
		if err := pool.Init(ctx); err != nil {
			log.Fatal("error to create tables: ", err)
			return
		}
		s.pool = pool
		historyStore = pool
	} else {
		s.logger.Warn("PG_HOST not set, history persistence disabled")
	}

	registry := model.NewRegistry(os.Getenv("EMBEDDING_URL"))
	ag := agent.New(registry)
	extractor := loader.NewExtractor(os.Getenv("CONVERTER_URL"))
	cropTop, _ := strconv.ParseFloat(os.Getenv("PDF_CROP_TOP"), 64)
	cropBottom, _ := strconv.ParseFloat(os.Getenv("PDF_CROP_BOTTOM"), 64)
	if cropTop > 0 || cropBottom > 0 {
		extractor.WithCrop(cropTop, cropBottom)
	}

	var (
		app            = fiber.New(config)
		checkHandler   = api.NewCheckHandler()
		analyzeHandler = api.NewAnalyzeHandler(ag, registry, historyStore)
		chatHandler    = api.NewChatHandler(ag, registry, historyStore)
		fileHandler    = api.NewFileHandler(extractor)
		check          = app.Group("/check")
		apiv1          = app.Group("/api/v1")
	)

	app.Use(middleware.PlugRequestLog(s.logger))

	check.Get("/healthy", checkHandler.HandleHealthy)
	apiv1.Post("/analyze", analyzeHandler.HandleAnalyze)
	apiv1.Post("/chat", chatHandler.HandleChat)
	apiv1.Post("/extract", fileHandler.HandleExtract)

	if historyStore != nil {
		historyHandler := api.NewHistoryHandler(historyStore)
		history := apiv1.Group("/history")
		history.Get("/", historyHandler.HandleList)
		history.Get("/stats", historyHandler.HandleStats)
		history.Get("/:id", historyHandler.HandleGet)
		history.Delete("/:id", historyHandler.HandleDelete)
	}

	if err := app.Listen(s.listenAddr); err != nil {
		s.logger.Error("error to start server", "error", err.Error())
	}
}
