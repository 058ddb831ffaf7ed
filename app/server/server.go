package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"docqa/app/api"
	"docqa/app/middleware"
	"docqa/config"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	listenAddr string
	app        *fiber.App
	logger     *slog.Logger
}

func NewServer(cfg *config.Config, docs api.DocumentService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		app = fiber.New(fiber.Config{
			ErrorHandler:          api.ErrorHandler,
			BodyLimit:             cfg.Server.BodyLimitMB * 1024 * 1024,
			ReadTimeout:           cfg.Server.ReadTimeout,
			DisableStartupMessage: true,
		})
		checkHandler    = api.NewCheckHandler(docs)
		configHandler   = api.NewConfigHandler(cfg)
		documentHandler = api.NewDocumentHandler(docs)
		questionHandler = api.NewQuestionHandler(docs)
	)

	app.Use(middleware.RequestLogger(logger))
	app.Use(recover.New())

	var (
		check     = app.Group("/check")
		documents = app.Group("/documents")
		qa        = app.Group("/qa")
	)

	check.Get("/healthy", checkHandler.HandleHealthy)
	app.Get("/config", configHandler.HandleGetConfig)

	documents.Post("/upload", documentHandler.HandleUpload)
	documents.Get("/", documentHandler.HandleList)
	documents.Get("/:id", documentHandler.HandleGet)
	documents.Delete("/:id", documentHandler.HandleDelete)

	qa.Post("/question", questionHandler.HandleQuestion)

	return &Server{
		listenAddr: cfg.Server.Addr,
		app:        app,
		logger:     logger,
	}
}

// App exposes the router, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.listenAddr)
		errc <- s.app.Listen(s.listenAddr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}
