// CloudCode Server
//
// Features:
// - SSH/SFTP gateway to a remote workspace (list, tree, read, save, exec)
// - Websocket collaboration relay (presence, content, cursors, compilations)
// - Signed invite links for collaboration sessions
// - Prometheus metrics & structured logging (zap)
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/cloudcode/cloudcode/internal/api"
	"github.com/cloudcode/cloudcode/internal/auth"
	"github.com/cloudcode/cloudcode/internal/config"
	"github.com/cloudcode/cloudcode/internal/logging"
	"github.com/cloudcode/cloudcode/internal/metrics"
	"github.com/cloudcode/cloudcode/internal/relay"
	"github.com/cloudcode/cloudcode/internal/remote"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("CloudCode Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("remote", cfg.SSHHost),
		zap.String("base_dir", cfg.BaseDir))

	// Remote filesystem client (dials lazily, per operation)
	remoteClient := remote.NewClient(remote.Config{
		Host:     cfg.SSHHost,
		Port:     cfg.SSHPort,
		User:     cfg.SSHUser,
		Password: cfg.SSHPassword,
	})

	// Collaboration relay
	collabRelay := relay.New(relay.Options{})
	logging.Info("collaboration relay initialized")

	// Invite signer
	inviter := auth.NewInviter(cfg.InviteSecret, cfg.InviteTTL)

	// Create API server
	srv := api.NewServer(remoteClient, collabRelay, inviter, cfg)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start HTTP server
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		httpServer.Close()
		metricsServer.Close()
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}
