package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"github.com/spyglass-dev/spyglass/internal/config"
	"github.com/spyglass-dev/spyglass/internal/handlers"
	"github.com/spyglass-dev/spyglass/internal/logger"
	"github.com/spyglass-dev/spyglass/internal/middleware"
	"github.com/spyglass-dev/spyglass/internal/models"
	"github.com/spyglass-dev/spyglass/internal/recovery"
	"github.com/spyglass-dev/spyglass/internal/services"
	"github.com/spyglass-dev/spyglass/internal/syncer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync server",
	Long: `# 🔭 spyglass serve

Starts the HTTP server: project sync over WebSocket and SSE, terminal
sessions over WebSocket, and the REST view of the project index.

## ⚙️ Configuration

Settings come from ` + "`~/.spyglass/config.yaml`" + ` and **SPYGLASS_** environment
variables. Flags override both.`,
	RunE: runServe,
}

var (
	serveAddr     string
	serveIndexDir string
)

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "listen address (default :8181)")
	serveCmd.Flags().StringVar(&serveIndexDir, "index-dir", "", "project index directory")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
	}
	if serveIndexDir != "" {
		cfg.IndexDir = serveIndexDir
	}
	config.Runtime = cfg

	logger.Configure(logger.LevelFromEnv())
	logger.Infof("Starting spyglass on %s (index: %s)", cfg.ListenAddr, cfg.IndexDir)

	registry := services.NewRegistry(cfg)

	// The handlers read the snapshot through a closure so they can be built
	// before the watcher that owns it.
	var watcher *services.IndexWatcher
	snapshot := func() models.Snapshot { return watcher.Current() }

	syncHandler := handlers.NewSyncHandler(cfg.MaxMessageBytes, snapshot)
	eventsHandler := handlers.NewEventsHandler(snapshot)
	transport := handlers.NewFanoutTransport(syncHandler, eventsHandler)
	broadcaster := syncer.NewBroadcaster(transport, cfg.CoalesceWindow(), cfg.MaxMessageBytes)

	watcher, err = services.NewIndexWatcher(cfg.IndexDir, broadcaster)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}

	terminalHandler := handlers.NewTerminalHandler(registry, cfg.MaxMessageBytes)
	projectsHandler := handlers.NewProjectsHandler(watcher)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadBufferSize:        16 * 1024,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	auth := middleware.NewAuthMiddleware()
	app.Use(auth.RequireAuth)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"sessions": len(registry.List()),
			"clients":  syncHandler.ClientCount(),
		})
	})

	v1 := app.Group("/v1")
	projectsHandler.RegisterRoutes(v1)
	syncHandler.RegisterRoutes(v1)
	eventsHandler.RegisterRoutes(v1)
	terminalHandler.RegisterRoutes(v1)

	recovery.SafeGo("http-server", func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			logger.Errorf("Server stopped: %v", err)
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	watcher.Stop()
	broadcaster.Shutdown()
	eventsHandler.Stop()
	registry.Shutdown()
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		logger.Warnf("Forced shutdown: %v", err)
	}
	logger.Info("Goodbye")
	return nil
}
