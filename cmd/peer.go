package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pavelmac/faceshare/internal/config"
	"github.com/pavelmac/faceshare/internal/detect"
	"github.com/pavelmac/faceshare/internal/peer"
	"github.com/pavelmac/faceshare/internal/photostore"
	"github.com/pavelmac/faceshare/internal/profile"
	"github.com/pavelmac/faceshare/internal/scanner"
	"github.com/pavelmac/faceshare/internal/similarity"
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Run the peer exchange service",
	Long: `Run the peer exchange service: listen for peer devices, advertise your
own profile, recognize who connected, and optionally send them photos
they appear in.

Requires DATABASE_URL to be set.

Examples:
  # Listen for peers
  faceshare peer --library ~/Pictures

  # Also dial known peers and send them their photos
  faceshare peer --library ~/Pictures --auto-send \
    --connect ws://192.168.1.20:9400/ws`,
	RunE: runPeer,
}

func init() {
	rootCmd.AddCommand(peerCmd)

	peerCmd.Flags().String("listen", "", "Websocket listen address (overrides PEER_LISTEN_ADDR)")
	peerCmd.Flags().String("library", ".", "Photo library directory for auto-send")
	peerCmd.Flags().String("received-dir", "received", "Directory for photos received from peers")
	peerCmd.Flags().Bool("auto-send", false, "Send matching local photos to connected peers")
	peerCmd.Flags().StringSlice("connect", nil, "Peer websocket URLs to dial on startup")
}

func runPeer(cmd *cobra.Command, args []string) error {
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

	index := photostore.NewIndex()
	faces, err := store.AllFaces(ctx)
	if err != nil {
		return fmt.Errorf("loading stored faces: %w", err)
	}
	if err := index.Build(faces); err != nil {
		return fmt.Errorf("building face index: %w", err)
	}
	log.Info("face index ready", zap.Int("faces", index.Len()))

	extractor, err := newExtractor(cfg)
	if err != nil {
		return err
	}

	channel := peer.NewWebsocketChannel(cfg.Peer.DisplayName, log)
	defer channel.Close()

	autoSend := cfg.Peer.AutoSendPhotos || mustGetBool(cmd, "auto-send")
	coordinator := peer.NewCoordinator(
		channel,
		reg,
		similarity.NewScorer(cfg.Calibration.Scorer),
		index,
		store,
		scanner.NewDirLibrary(mustGetString(cmd, "library")),
		profile.NewStore(cfg.Profile.Path),
		detect.NewClient(cfg.Model.URL),
		extractor,
		peer.Options{
			DisplayName:    cfg.Peer.DisplayName,
			AutoSendPhotos: autoSend,
			ReceivedDir:    mustGetString(cmd, "received-dir"),
			Calibration:    cfg.Calibration.Peer,
		},
		log,
	)

	listenAddr := mustGetString(cmd, "listen")
	if listenAddr == "" {
		listenAddr = cfg.Peer.ListenAddr
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", channel.Handler())
	srv := &http.Server{Addr: listenAddr, Handler: mux}

	go func() {
		log.Info("listening for peers", zap.String("addr", listenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("peer listener failed", zap.Error(err))
			stop()
		}
	}()

	for _, url := range mustGetStringSlice(cmd, "connect") {
		if err := channel.Dial(ctx, url); err != nil {
			log.Warn("failed to dial peer", zap.String("url", url), zap.Error(err))
		}
	}

	err = coordinator.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("peer exchange: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("listener shutdown failed", zap.Error(err))
	}
	return nil
}
