package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"movesia/internal/config"
	"movesia/internal/http"
	"movesia/internal/mcpserver"
	"movesia/internal/orchestrator"
)

func setupLogging(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func boot(ctx context.Context) (*orchestrator.Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	setupLogging(cfg)

	host := orchestrator.NewHost(cfg)
	rt, err := host.StartOnce(ctx)
	if err != nil {
		return nil, fmt.Errorf("boot core: %w", err)
	}
	return rt, nil
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	setupLogging(cfg)

	host := orchestrator.NewHost(cfg)
	rt, err := host.StartOnce(ctx)
	if err != nil {
		return fmt.Errorf("boot core: %w", err)
	}
	defer func() {
		_ = rt.Close()
	}()

	srv := &nethttp.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           http.NewRouter(rt),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return err
		}
	case <-stop:
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func runWipe(ctx context.Context, cmd *cli.Command) error {
	rt, err := boot(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = rt.Close()
	}()

	res := rt.Coordinator.WipeAll(ctx)
	fmt.Println(res.Message)
	if !res.Success {
		return fmt.Errorf("wipe failed")
	}
	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	rt, err := boot(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = rt.Close()
	}()

	return mcpserver.New(rt.Embedder, rt.Vectors, rt.Catalog).ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:   "movesia",
		Usage:  "Live semantic index of a game-engine project for retrieval-augmented queries",
		Action: runServe,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Boot the core and serve the event intake, progress stream and search API",
				Action: runServe,
			},
			{
				Name:   "wipe",
				Usage:  "Quiesce writers, drop the vector collection and truncate the catalog",
				Action: runWipe,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the semantic index over MCP on stdio",
				Action: runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
