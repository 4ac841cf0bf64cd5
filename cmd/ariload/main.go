package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ariload/ariload/internal/ari"
	"github.com/ariload/ariload/internal/caller"
	"github.com/ariload/ariload/internal/config"
	"github.com/ariload/ariload/internal/mediasink"
	"github.com/ariload/ariload/internal/metrics"
	"github.com/ariload/ariload/internal/ops"
)

func main() {
	asteriskPath := flag.String("asterisk", "configs/asterisk.ini", "path to the Asterisk connection file")
	callsPath := flag.String("calls", "configs/calls.ini", "path to the call scenario file")
	flag.Parse()

	cfg, err := config.Load(*asteriskPath, *callsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stderr))
	slog.SetDefault(logger)

	slog.Info("starting ariload",
		"asterisk", cfg.ARI.URL(),
		"app", cfg.ARI.App,
		"count", cfg.Calls.Count,
	)

	startTime := time.Now()

	// UDP sink for external-media audio.
	sink, err := mediasink.Listen(fmt.Sprintf("%s:%d", cfg.Media.Host, cfg.Media.Port), logger)
	if err != nil {
		slog.Error("failed to start media sink", "error", err)
		os.Exit(1)
	}
	defer sink.Close()

	// ARI client: REST plus the WebSocket event stream.
	client := ari.New(ari.Config{
		URL:         cfg.ARI.URL(),
		Username:    cfg.ARI.Username,
		Password:    cfg.ARI.Secret,
		Application: cfg.ARI.App,
	}, logger)
	client.Start()
	defer client.Close()

	driver := caller.New(client, caller.Config{
		Count:          cfg.Calls.Count,
		Driver:         cfg.Calls.Driver,
		Trunk:          cfg.Calls.Trunk,
		Phone:          cfg.Calls.Phone,
		CallerID:       cfg.Calls.CallerID,
		CallsPerSecond: cfg.Calls.CallsPerSecond,
		SoundsDir:      cfg.Calls.SoundsDir,
		MediaHost:      cfg.Media.Host,
		MediaPort:      cfg.Media.Port,
	}, logger)

	// Optional ops endpoint with health and Prometheus metrics.
	var opsSrv *http.Server
	if cfg.Ops.Listen != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector(driver, sink, startTime))
		opsSrv = &http.Server{
			Addr:         cfg.Ops.Listen,
			Handler:      ops.NewServer(reg),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
		go func() {
			slog.Info("ops server listening", "addr", opsSrv.Addr)
			if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("ops server error", "error", err)
			}
		}()
	}

	// Originate until interrupted.
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	done := make(chan struct{})
	go func() {
		driver.Run(runCtx)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case <-done:
	}

	runCancel()
	<-done

	if opsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := opsSrv.Shutdown(ctx); err != nil {
			slog.Error("ops server shutdown error", "error", err)
		}
	}

	client.Close()
	sink.Close()

	fmt.Print(driver.Stats())
	slog.Info("ariload stopped")
}
