package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pavelmac/faceshare/internal/config"
	"github.com/pavelmac/faceshare/internal/detect"
	"github.com/pavelmac/faceshare/internal/grouping"
	"github.com/pavelmac/faceshare/internal/scanner"
	"github.com/pavelmac/faceshare/internal/similarity"
	"github.com/pavelmac/faceshare/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web API server",
	Long: `Start the Faceshare web API.
The API exposes face matching against the known identities, the known
face list, and library scan triggers.

Requires DATABASE_URL to be set.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().String("library", ".", "Photo library directory for scan triggers")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

// serveScanRunner runs library scans for the scan endpoint.
type serveScanRunner struct {
	scanner *scanner.Scanner
	opts    scanner.Options
}

func (r serveScanRunner) Scan(ctx context.Context) (*scanner.Report, error) {
	return r.scanner.Scan(ctx, r.opts)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	reg, pool, err := openRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	store, err := openPhotoStore(ctx, cfg, pool)
	if err != nil {
		return err
	}

	extractor, err := newExtractor(cfg)
	if err != nil {
		return err
	}

	scorer := similarity.NewScorer(cfg.Calibration.Scorer)
	detector := detect.NewClient(cfg.Model.URL)
	scn := scanner.New(
		scanner.NewDirLibrary(mustGetString(cmd, "library")),
		detector,
		extractor,
		grouping.NewEngine(scorer, cfg.Calibration.Grouping.SimilarityThreshold),
		store,
		registryMatcher{reg: reg},
		log,
	)

	port, host := resolveServeHostPort(cmd)
	srv := web.NewServer(web.Deps{
		Registry: reg,
		Embedder: extractor,
		Detector: detector,
		Scanner:  serveScanRunner{scanner: scn},
	}, host, port, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
