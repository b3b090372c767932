// CloudCode Sync Relay
//
// Standalone fan-out server for document sync traffic. Each request
// path is a room; frames are forwarded verbatim between the room's
// members. Runs separately from the main server so heavy sync traffic
// never competes with the filesystem gateway.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/cloudcode/cloudcode/internal/config"
	"github.com/cloudcode/cloudcode/internal/logging"
	"github.com/cloudcode/cloudcode/internal/syncrelay"
)

func main() {
	cfg, err := config.LoadSync()
	if err != nil {
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("CloudCode Sync Relay starting...",
		zap.String("listen", cfg.SyncListenAddr))

	hub := syncrelay.NewHub()

	server := &http.Server{
		Addr:    cfg.SyncListenAddr,
		Handler: syncrelay.NewHandler(hub),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		server.Close()
	}()

	logging.Info("sync relay listening", zap.String("addr", cfg.SyncListenAddr))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}
