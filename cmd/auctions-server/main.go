// Package main boots the live-auction HTTP server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dylanjitt/auctions/internal/config"
	"github.com/dylanjitt/auctions/internal/httpapi"
	"github.com/dylanjitt/auctions/internal/hub"
	"github.com/dylanjitt/auctions/internal/obs"
	"github.com/dylanjitt/auctions/internal/store"
)

func main() {
	cfg := config.Load()
	obs.InitLogger()
	obs.Logger.Info("service_starting")

	st, err := store.Open(cfg.DBPath, cfg.FlushInterval)
	if err != nil {
		obs.Logger.Error("store_open_error", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st.Start(ctx)

	flake, err := hub.NewIDGenerator()
	if err != nil {
		obs.Logger.Error("id_generator_error", "error", err)
		os.Exit(1)
	}
	reg := hub.NewRegistry()
	pub := hub.NewPublisher(reg, flake)

	app := httpapi.NewApp(cfg, st, reg, pub)
	handler := httpapi.NewRouter(app)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No WriteTimeout: event-stream responses stay open for the life of
		// the subscription.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		obs.Logger.Info("http_listen", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obs.Logger.Error("http_server_error", "error", err)
			os.Exit(1)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigc
	obs.Logger.Info("shutdown_signal", "signal", s.String())

	ctxSrv, cancelSrv := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelSrv()
	if err := srv.Shutdown(ctxSrv); err != nil {
		// open streams keep Shutdown from draining; cut them
		obs.Logger.Warn("http_shutdown_timeout", "error", err)
		_ = srv.Close()
	}

	cancel()
	if err := st.Flush(); err != nil {
		obs.Logger.Error("store_flush_error", "error", err)
	}
	obs.Logger.Info("service_stopped")
}
