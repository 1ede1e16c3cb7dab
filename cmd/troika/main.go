package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/troika-ai/troika/internal/app"
)

// version is set at build time via -ldflags.
var version = "dev"

// runHealthCheck probes /healthz of a running instance. Used for Docker
// HEALTHCHECK, where the distroless image has no curl.
func runHealthCheck(addr string) error {
	resp, err := http.Get(fmt.Sprintf("http://localhost%s/healthz", addr))
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func main() {
	healthcheck := flag.Bool("healthcheck", false, "probe /healthz of a running instance and exit")
	envFile := flag.String("env", "", "load environment from this file before reading config")
	preflight := flag.Bool("preflight", false, "validate provider credentials after startup")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("troika %s\n", version)
		return
	}

	if *healthcheck {
		addr := os.Getenv("TROIKA_ADDR")
		if addr == "" {
			addr = ":8080"
		}
		if err := runHealthCheck(addr); err != nil {
			os.Exit(1)
		}
		return
	}

	// .env is optional; existing environment variables take precedence.
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("env file error: %v", err)
		}
	} else {
		_ = godotenv.Load()
	}

	log.Printf("troika version %s", version)
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	srv, err := app.NewServer(cfg)
	if err != nil {
		log.Fatalf("server init error: %v", err)
	}

	if *preflight {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		for prov, results := range srv.Core().Preflight(ctx) {
			for _, r := range results {
				switch {
				case r.OK:
					log.Printf("preflight %s[%d]: ok", prov, r.Index)
				case r.Disabled:
					log.Printf("preflight %s[%d]: DISABLED (%s)", prov, r.Index, r.Error)
				default:
					log.Printf("preflight %s[%d]: %s", prov, r.Index, r.Error)
				}
			}
		}
		cancel()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		WriteTimeout:      300 * time.Second, // reasoner streams run long
	}

	go func() {
		log.Printf("troika listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen error: %v", err)
		}
	}()

	// Graceful shutdown: drain in-flight requests, then close resources.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Printf("shutting down (draining in-flight requests)...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	if err := srv.Close(); err != nil {
		log.Printf("server close error: %v", err)
	}
	log.Printf("shutdown complete")
}
