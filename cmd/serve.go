package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-cluster/internal/config"
	"github.com/kozaktomas/face-cluster/internal/detector"
	"github.com/kozaktomas/face-cluster/internal/imagestore"
	"github.com/kozaktomas/face-cluster/internal/pipeline"
	"github.com/kozaktomas/face-cluster/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Face Cluster HTTP service.
The service accepts image uploads or precomputed detections, clusters the
faces and serves the stored originals and annotated crops.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides HOST)")
}

// openStore creates the image store selected by STORAGE_BACKEND.
func openStore(ctx context.Context, cfg config.StorageConfig) (imagestore.Store, error) {
	switch cfg.Backend {
	case "", "local":
		return imagestore.NewLocalStore(cfg.UploadDir)
	case "minio":
		if cfg.Minio.Endpoint == "" {
			return nil, errors.New("MINIO_ENDPOINT is required for the minio storage backend")
		}
		return imagestore.ConnectMinio(ctx, imagestore.MinioConfig(cfg.Minio))
	case "memory":
		return imagestore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Server.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Server.Host = host
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening image store: %w", err)
	}
	logger.Info("image store ready", "backend", cfg.Storage.Backend)

	client := detector.NewClient(cfg.Detector.URL, cfg.Detector.Timeout)
	healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := client.Health(healthCtx); err != nil {
		logger.Warn("face detector is not reachable, requests with images will fail until it is up",
			"url", client.BaseURL(), "error", err)
	}
	healthCancel()

	p, err := pipeline.New(pipeline.Config{
		Detector:    client,
		Store:       store,
		Annotator:   cfg.Storage.Annotator(),
		Logger:      logger,
		Concurrency: cfg.Detector.Concurrency,
		RateLimit:   cfg.Detector.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	server := web.NewServer(cfg, web.Dependencies{
		Runner:   p,
		Store:    store,
		Detector: client,
		Logger:   logger,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Face Cluster on http://%s:%d (preset %s)\n", cfg.Server.Host, cfg.Server.Port, cfg.Clustering.Preset)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
